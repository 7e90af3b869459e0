package moderation

import (
	"fmt"
	"sort"
	"strings"
	"survey_engine/surveys/schema"
)

// Answer is one answer of a contributor submission as received.
type Answer struct {
	QuestionId         int64
	AnswerText         string
	IsDisclosureAgreed bool
}

// ValidateSubmission checks a submission against the survey status and its
// questions before anything is written. It returns the answers to store:
// trimmed, restricted to known questions, one per question, with consent only
// kept on personal data questions.
func ValidateSubmission(status string, questions []schema.Question, answers []Answer) ([]Answer, error) {
	if status != schema.SurveyActive {
		return nil, schema.NewValidationError("", "submissions are closed for this survey")
	}
	if len(questions) == 0 {
		return nil, schema.NewValidationError("", "survey has no questions yet")
	}

	labels := make(map[int64]string, len(questions))
	for _, question := range questions {
		labels[question.Id] = question.Label
	}

	byQuestion := make(map[int64]Answer, len(answers))
	for _, answer := range answers {
		label, ok := labels[answer.QuestionId]
		if !ok {
			continue
		}
		answer.AnswerText = strings.TrimSpace(answer.AnswerText)
		if answer.AnswerText == "" {
			return nil, schema.NewValidationError("answer_text", "question '%v' cannot be empty", label)
		}
		byQuestion[answer.QuestionId] = answer
	}

	accepted := make([]Answer, 0, len(byQuestion))
	for _, question := range questions {
		answer, ok := byQuestion[question.Id]
		if !ok {
			if question.IsRequired {
				return nil, schema.NewValidationError("answers", "required question '%v' (id=%d) must be answered", question.Label, question.Id)
			}
			continue
		}
		if !question.IsPersonalData {
			answer.IsDisclosureAgreed = false
		}
		accepted = append(accepted, answer)
	}

	return accepted, nil
}

// ExtractDisclosedPii maps question labels to answers for personal data
// questions whose answer carries disclosure consent.
func ExtractDisclosedPii(questions []schema.Question, answers []schema.RawAnswer) map[string]string {
	byId := make(map[int64]schema.Question, len(questions))
	for _, q := range questions {
		byId[q.Id] = q
	}

	pii := map[string]string{}
	for _, answer := range answers {
		question, ok := byId[answer.QuestionId]
		if !ok || !question.IsPersonalData || !answer.IsDisclosureAgreed {
			continue
		}
		pii[question.Label] = answer.AnswerText
	}

	if len(pii) == 0 {
		return nil
	}
	return pii
}

func trimmed(value *string) string {
	if value == nil {
		return ""
	}
	return strings.TrimSpace(*value)
}

func optional(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}

// UpvotePii returns the fields a voter agreed to disclose.
func UpvotePii(agreed bool, dept, name, email *string) map[string]string {
	if !agreed {
		return nil
	}

	pii := map[string]string{}
	if v := trimmed(dept); v != "" {
		pii["Dept"] = v
	}
	if v := trimmed(name); v != "" {
		pii["Name"] = v
	}
	if v := trimmed(email); v != "" {
		pii["Email"] = v
	}

	if len(pii) == 0 {
		return nil
	}
	return pii
}

// InitialUpvoteStatus is published for a bare vote, a vote with a comment
// waits for moderation.
func InitialUpvoteStatus(comment *string) string {
	if trimmed(comment) == "" {
		return schema.UpvotePublished
	}
	return schema.UpvotePending
}

func NewUpvote(opinionId int64, userHash string, comment *string, pii map[string]string) schema.Upvote {
	return schema.Upvote{
		OpinionId:          opinionId,
		UserHash:           userHash,
		RawComment:         optional(trimmed(comment)),
		Status:             InitialUpvoteStatus(comment),
		IsDisclosureAgreed: len(pii) > 0,
		DisclosedPii:       pii,
	}
}

type UpvoteUpdate struct {
	PublishedComment *string
	Status           *string
}

// ApplyUpvoteUpdate applies a moderator decision. Any status may follow any
// other. Publishing without a comment in the update keeps the current
// published comment, or the raw comment when there is none; an explicit
// empty comment publishes the vote without one.
func ApplyUpvoteUpdate(upvote *schema.Upvote, update UpvoteUpdate) error {
	if update.Status != nil {
		if err := schema.CheckUpvoteStatus(*update.Status); err != nil {
			return err
		}
		upvote.Status = *update.Status
	}

	if update.PublishedComment != nil {
		upvote.PublishedComment = optional(strings.TrimSpace(*update.PublishedComment))
	} else if upvote.Status == schema.UpvotePublished && upvote.PublishedComment == nil {
		upvote.PublishedComment = optional(trimmed(upvote.RawComment))
	}

	return nil
}

// AdditionalComments returns the comments shown publicly: trimmed, non empty
// published comments of published votes.
func AdditionalComments(upvotes []schema.Upvote) []string {
	comments := make([]string, 0)
	for _, upvote := range upvotes {
		if upvote.Status != schema.UpvotePublished {
			continue
		}
		if comment := trimmed(upvote.PublishedComment); comment != "" {
			comments = append(comments, comment)
		}
	}
	return comments
}

var preferredPiiKeys = []string{"Dept", "Name", "Email", "Dept.", "Name.", "Email."}

// PiiKeys orders disclosed field names: the preferred keys first, then the
// rest alphabetically.
func PiiKeys(piis ...map[string]string) []string {
	seen := map[string]bool{}
	for _, pii := range piis {
		for k := range pii {
			seen[k] = true
		}
	}

	keys := make([]string, 0, len(seen))
	for _, k := range preferredPiiKeys {
		if seen[k] {
			keys = append(keys, k)
			delete(seen, k)
		}
	}

	rest := make([]string, 0, len(seen))
	for k := range seen {
		rest = append(rest, k)
	}
	sort.Strings(rest)

	return append(keys, rest...)
}

// FormatPii renders disclosed fields inline in preferred key order.
func FormatPii(pii map[string]string) string {
	parts := make([]string, 0, len(pii))
	for _, k := range PiiKeys(pii) {
		parts = append(parts, fmt.Sprintf("%v: %v", k, pii[k]))
	}
	return strings.Join(parts, ", ")
}
