package schema

import (
	"fmt"
	"slices"
)

// ValidationError reports malformed input, Field names the offending field.
type ValidationError struct {
	Field string
	Msg   string
}

func (e ValidationError) Error() string {
	if e.Field == "" {
		return e.Msg
	}
	return fmt.Sprintf("invalid %v: %v", e.Field, e.Msg)
}

func NewValidationError(field, format string, args ...interface{}) error {
	return ValidationError{Field: field, Msg: fmt.Sprintf(format, args...)}
}

var (
	surveyStatuses = []string{SurveyActive, SurveySuspended, SurveyDeleted}
	questionTypes  = []string{TextQuestion, TextareaQuestion, SelectQuestion, RadioQuestion}
	upvoteStatuses = []string{UpvotePending, UpvotePublished, UpvoteRejected}
)

func CheckSurveyStatus(status string) error {
	if !slices.Contains(surveyStatuses, status) {
		return NewValidationError("status", "'%v' must be one of %v", status, surveyStatuses)
	}
	return nil
}

func CheckQuestionType(questionType string) error {
	if !slices.Contains(questionTypes, questionType) {
		return NewValidationError("question_type", "'%v' must be one of %v", questionType, questionTypes)
	}
	return nil
}

func CheckUpvoteStatus(status string) error {
	if !slices.Contains(upvoteStatuses, status) {
		return NewValidationError("status", "'%v' must be one of %v", status, upvoteStatuses)
	}
	return nil
}
