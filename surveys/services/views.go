package services

import (
	"survey_engine/surveys/moderation"
	"survey_engine/surveys/schema"
	"survey_engine/surveys/scoring"
	"survey_engine/surveys/tenancy"
	"time"

	"github.com/google/uuid"
)

const dateFormat = "2006-01-02"

type SurveyInfo struct {
	Id              uuid.UUID `json:"id"`
	Name            string    `json:"name"`
	Namespace       string    `json:"namespace"`
	Status          string    `json:"status"`
	ContractEndDate *string   `json:"contract_end_date"`
	DeletionDueDate *string   `json:"deletion_due_date"`
	Notes           *string   `json:"notes"`
	CreatedAt       time.Time `json:"created_at"`
	AccessCode      string    `json:"access_code,omitempty"`
}

func formatDate(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(dateFormat)
	return &s
}

func convertToSurveyInfo(survey schema.Survey, withAccessCode bool) SurveyInfo {
	info := SurveyInfo{
		Id:              survey.Id,
		Name:            survey.Name,
		Namespace:       survey.Namespace,
		Status:          survey.Status,
		ContractEndDate: formatDate(survey.ContractEndDate),
		DeletionDueDate: formatDate(survey.DeletionDueDate),
		Notes:           survey.Notes,
		CreatedAt:       survey.CreatedAt,
	}
	if withAccessCode {
		info.AccessCode = survey.AccessSecret
	}
	return info
}

type QuestionInfo struct {
	Id             int64    `json:"id"`
	Label          string   `json:"label"`
	QuestionType   string   `json:"question_type"`
	Options        []string `json:"options"`
	IsRequired     bool     `json:"is_required"`
	IsPersonalData bool     `json:"is_personal_data"`
}

func convertToQuestionInfo(q schema.Question) QuestionInfo {
	options := q.Options
	if options == nil {
		options = []string{}
	}
	return QuestionInfo{
		Id:             q.Id,
		Label:          q.Label,
		QuestionType:   q.QuestionType,
		Options:        options,
		IsRequired:     q.IsRequired,
		IsPersonalData: q.IsPersonalData,
	}
}

func convertToQuestionInfos(questions []schema.Question) []QuestionInfo {
	infos := make([]QuestionInfo, 0, len(questions))
	for _, q := range questions {
		infos = append(infos, convertToQuestionInfo(q))
	}
	return infos
}

type AnswerInfo struct {
	QuestionId         int64  `json:"question_id"`
	QuestionLabel      string `json:"question_label"`
	IsPersonalData     bool   `json:"is_personal_data"`
	AnswerText         string `json:"answer_text"`
	IsDisclosureAgreed bool   `json:"is_disclosure_agreed"`
}

type ResponseSummary struct {
	Id          uuid.UUID `json:"id"`
	SubmittedAt time.Time `json:"submitted_at"`
	AnswerCount int64     `json:"answer_count"`
}

type ResponseInfo struct {
	Id          uuid.UUID    `json:"id"`
	SubmittedAt time.Time    `json:"submitted_at"`
	Answers     []AnswerInfo `json:"answers"`
}

func convertToResponseInfo(response schema.RawResponse, questions []schema.Question, answers []schema.RawAnswer) ResponseInfo {
	byId := make(map[int64]schema.Question, len(questions))
	for _, q := range questions {
		byId[q.Id] = q
	}

	infos := make([]AnswerInfo, 0, len(answers))
	for _, a := range answers {
		q := byId[a.QuestionId]
		infos = append(infos, AnswerInfo{
			QuestionId:         a.QuestionId,
			QuestionLabel:      q.Label,
			IsPersonalData:     q.IsPersonalData,
			AnswerText:         a.AnswerText,
			IsDisclosureAgreed: a.IsDisclosureAgreed,
		})
	}

	return ResponseInfo{Id: response.Id, SubmittedAt: response.SubmittedAt, Answers: infos}
}

// OpinionInfo is the full view of an opinion shown to admins and managers.
type OpinionInfo struct {
	Id                  int64             `json:"id"`
	RawResponseId       uuid.UUID         `json:"raw_response_id"`
	Title               string            `json:"title"`
	Content             string            `json:"content"`
	AdminNotes          *string           `json:"admin_notes"`
	Importance          int               `json:"importance"`
	Urgency             int               `json:"urgency"`
	ExpectedImpact      int               `json:"expected_impact"`
	SupporterPoints     int               `json:"supporter_points"`
	PriorityScore       int               `json:"priority_score"`
	Rating              int               `json:"rating"`
	Supporters          int64             `json:"supporters"`
	PendingUpvotesCount int64             `json:"pending_upvotes_count"`
	DisclosedPii        map[string]string `json:"disclosed_pii"`
	CreatedAt           time.Time         `json:"created_at"`
	UpdatedAt           time.Time         `json:"updated_at"`
}

func convertToOpinionInfo(o schema.PublishedOpinion, supporters, pending int64) OpinionInfo {
	pii := o.DisclosedPii
	if pii == nil {
		pii = map[string]string{}
	}
	return OpinionInfo{
		Id:                  o.Id,
		RawResponseId:       o.RawResponseId,
		Title:               o.Title,
		Content:             o.Content,
		AdminNotes:          o.AdminNotes,
		Importance:          o.Importance,
		Urgency:             o.Urgency,
		ExpectedImpact:      o.ExpectedImpact,
		SupporterPoints:     o.SupporterPoints,
		PriorityScore:       o.PriorityScore,
		Rating:              scoring.StarRating(o.PriorityScore),
		Supporters:          supporters,
		PendingUpvotesCount: pending,
		DisclosedPii:        pii,
		CreatedAt:           o.CreatedAt,
		UpdatedAt:           o.UpdatedAt,
	}
}

// PublicOpinion never carries disclosed personal data or admin notes.
type PublicOpinion struct {
	Id                      int64    `json:"id"`
	Title                   string   `json:"title"`
	Content                 string   `json:"content"`
	PriorityScore           int      `json:"priority_score"`
	Rating                  int      `json:"rating"`
	Supporters              int64    `json:"supporters"`
	AdditionalComments      []string `json:"additional_comments"`
	CurrentUserHasSupported bool     `json:"current_user_has_supported"`
}

type UpvoteInfo struct {
	Id                 int64             `json:"id"`
	OpinionId          int64             `json:"opinion_id"`
	RawComment         *string           `json:"raw_comment"`
	PublishedComment   *string           `json:"published_comment"`
	Status             string            `json:"status"`
	IsDisclosureAgreed bool              `json:"is_disclosure_agreed"`
	DisclosedPii       map[string]string `json:"disclosed_pii"`
	CreatedAt          time.Time         `json:"created_at"`
}

func convertToUpvoteInfo(u schema.Upvote) UpvoteInfo {
	pii := u.DisclosedPii
	if pii == nil {
		pii = map[string]string{}
	}
	return UpvoteInfo{
		Id:                 u.Id,
		OpinionId:          u.OpinionId,
		RawComment:         u.RawComment,
		PublishedComment:   u.PublishedComment,
		Status:             u.Status,
		IsDisclosureAgreed: u.IsDisclosureAgreed,
		DisclosedPii:       pii,
		CreatedAt:          u.CreatedAt,
	}
}

func listOpinions(tx *tenancy.Tx, search string) ([]schema.PublishedOpinion, error) {
	opinions := make([]schema.PublishedOpinion, 0)

	query := tx.Table(schema.OpinionsTable)
	if search != "" {
		query = tx.Search(query, search)
	}

	result := query.Order("updated_at DESC").Order("id").Find(&opinions)
	if result.Error != nil {
		return nil, result.Error
	}
	return opinions, nil
}

func opinionIds(opinions []schema.PublishedOpinion) []int64 {
	ids := make([]int64, 0, len(opinions))
	for _, o := range opinions {
		ids = append(ids, o.Id)
	}
	return ids
}

func listOpinionInfos(tx *tenancy.Tx) ([]OpinionInfo, error) {
	opinions, err := listOpinions(tx, "")
	if err != nil {
		return nil, err
	}

	ids := opinionIds(opinions)
	supporters, err := schema.CountUpvotes(ids, "", tx)
	if err != nil {
		return nil, err
	}
	pending, err := schema.CountUpvotes(ids, schema.UpvotePending, tx)
	if err != nil {
		return nil, err
	}

	infos := make([]OpinionInfo, 0, len(opinions))
	for _, o := range opinions {
		infos = append(infos, convertToOpinionInfo(o, supporters[o.Id], pending[o.Id]))
	}
	return infos, nil
}

func listPublicOpinions(tx *tenancy.Tx, search, userHash string) ([]PublicOpinion, error) {
	opinions, err := listOpinions(tx, search)
	if err != nil {
		return nil, err
	}

	ids := opinionIds(opinions)
	supporters, err := schema.CountUpvotes(ids, "", tx)
	if err != nil {
		return nil, err
	}

	comments := map[int64][]schema.Upvote{}
	supported := map[int64]bool{}
	if len(ids) > 0 {
		var published []schema.Upvote
		result := tx.Table(schema.UpvotesTable).
			Where("opinion_id IN ?", ids).
			Where("status = ?", schema.UpvotePublished).
			Order("created_at").Order("id").
			Find(&published)
		if result.Error != nil {
			return nil, result.Error
		}
		for _, u := range published {
			comments[u.OpinionId] = append(comments[u.OpinionId], u)
		}

		var own []int64
		result = tx.Table(schema.UpvotesTable).
			Where("opinion_id IN ?", ids).
			Where("user_hash = ?", userHash).
			Pluck("opinion_id", &own)
		if result.Error != nil {
			return nil, result.Error
		}
		for _, id := range own {
			supported[id] = true
		}
	}

	items := make([]PublicOpinion, 0, len(opinions))
	for _, o := range opinions {
		items = append(items, PublicOpinion{
			Id:                      o.Id,
			Title:                   o.Title,
			Content:                 o.Content,
			PriorityScore:           o.PriorityScore,
			Rating:                  scoring.StarRating(o.PriorityScore),
			Supporters:              supporters[o.Id],
			AdditionalComments:      moderation.AdditionalComments(comments[o.Id]),
			CurrentUserHasSupported: supported[o.Id],
		})
	}
	return items, nil
}

func listUpvoteInfos(tx *tenancy.Tx, opinionId int64) ([]UpvoteInfo, error) {
	if _, err := schema.GetOpinion(opinionId, tx); err != nil {
		return nil, err
	}

	var upvotes []schema.Upvote
	result := tx.Table(schema.UpvotesTable).Where("opinion_id = ?", opinionId).Order("created_at DESC").Order("id DESC").Find(&upvotes)
	if result.Error != nil {
		return nil, result.Error
	}

	infos := make([]UpvoteInfo, 0, len(upvotes))
	for _, u := range upvotes {
		infos = append(infos, convertToUpvoteInfo(u))
	}
	return infos, nil
}
