package services

import (
	"log/slog"
	"net/http"
	"strings"
	"survey_engine/surveys/moderation"
	"survey_engine/surveys/schema"
	"survey_engine/surveys/tenancy"
	"survey_engine/utils"
	"survey_engine/utils/metrics"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/google/uuid"
)

// SurveyService is the public contributor api. The survey id is the only
// credential, submissions and votes are rate limited per voter fingerprint.
type SurveyService struct {
	store              *tenancy.Store
	rateLimitPerMinute int
	debug              bool
}

func (s *SurveyService) limiter() func(http.Handler) http.Handler {
	return httprate.Limit(
		s.rateLimitPerMinute,
		time.Minute,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			return moderation.Fingerprint(r), nil
		}),
	)
}

func (s *SurveyService) Routes() chi.Router {
	r := chi.NewRouter()

	r.Route("/{survey_id}", func(r chi.Router) {
		limited := r.With(s.limiter())

		r.Get("/questions", s.Questions)
		limited.Post("/submit", s.Submit)

		r.Get("/opinions", s.Opinions)
		r.Get("/search", s.Search)
		limited.Post("/opinions/{opinion_id}/upvote", s.Upvote)

		if s.debug {
			r.Get("/debug/namespace", debugNamespace)
		}
	})

	return r
}

type questionsResponse struct {
	SurveyName string         `json:"survey_name"`
	Status     string         `json:"status"`
	Questions  []QuestionInfo `json:"questions"`
}

func (s *SurveyService) Questions(w http.ResponseWriter, r *http.Request) {
	var res questionsResponse
	err := s.store.InTenant(r.Context(), func(tx *tenancy.Tx) error {
		survey, err := schema.GetSurvey(tx.Binding().SurveyId, tx.Shared())
		if err != nil {
			return err
		}

		questions, err := schema.ListQuestions(survey.Id, tx)
		if err != nil {
			return err
		}

		res = questionsResponse{SurveyName: survey.Name, Status: survey.Status, Questions: convertToQuestionInfos(questions)}
		return nil
	})
	if err != nil {
		writeError(w, "retrieving questions", err)
		return
	}

	utils.WriteJsonResponse(w, res)
}

type submitAnswer struct {
	QuestionId         int64  `json:"question_id"`
	AnswerText         string `json:"answer_text"`
	IsDisclosureAgreed bool   `json:"is_disclosure_agreed"`
}

type submitRequest struct {
	Answers []submitAnswer `json:"answers"`
}

type submitResponse struct {
	ResponseId uuid.UUID `json:"response_id"`
	Message    string    `json:"message"`
}

func (s *SurveyService) Submit(w http.ResponseWriter, r *http.Request) {
	var params submitRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	answers := make([]moderation.Answer, 0, len(params.Answers))
	for _, a := range params.Answers {
		answers = append(answers, moderation.Answer{
			QuestionId:         a.QuestionId,
			AnswerText:         a.AnswerText,
			IsDisclosureAgreed: a.IsDisclosureAgreed,
		})
	}

	response := schema.RawResponse{Id: uuid.New(), SubmittedAt: time.Now().UTC()}
	err := s.store.InTenant(r.Context(), func(tx *tenancy.Tx) error {
		questions, err := schema.ListQuestions(tx.Binding().SurveyId, tx)
		if err != nil {
			return err
		}

		accepted, err := moderation.ValidateSubmission(tx.Binding().Status, questions, answers)
		if err != nil {
			return err
		}

		if err := tx.Table(schema.RawResponsesTable).Create(&response).Error; err != nil {
			return err
		}

		rows := make([]schema.RawAnswer, 0, len(accepted))
		for _, a := range accepted {
			rows = append(rows, schema.RawAnswer{
				ResponseId:         response.Id,
				QuestionId:         a.QuestionId,
				AnswerText:         a.AnswerText,
				IsDisclosureAgreed: a.IsDisclosureAgreed,
			})
		}
		if len(rows) == 0 {
			return nil
		}
		return tx.Table(schema.RawAnswersTable).Create(&rows).Error
	})
	if err != nil {
		writeError(w, "submitting response", err)
		return
	}

	metrics.SubmissionsCounter.Inc()
	slog.Info("accepted submission", "response_id", response.Id)

	utils.WriteJsonResponse(w, submitResponse{ResponseId: response.Id, Message: "Thank you for your response!"})
}

func (s *SurveyService) listOpinions(w http.ResponseWriter, r *http.Request, search string) {
	userHash := moderation.Fingerprint(r)

	var items []PublicOpinion
	err := s.store.InTenant(r.Context(), func(tx *tenancy.Tx) error {
		var err error
		items, err = listPublicOpinions(tx, search, userHash)
		return err
	})
	if err != nil {
		writeError(w, "listing opinions", err)
		return
	}

	utils.WriteJsonResponse(w, items)
}

func (s *SurveyService) Opinions(w http.ResponseWriter, r *http.Request) {
	s.listOpinions(w, r, "")
}

func (s *SurveyService) Search(w http.ResponseWriter, r *http.Request) {
	s.listOpinions(w, r, strings.TrimSpace(r.URL.Query().Get("q")))
}

type upvoteRequest struct {
	Comment            *string `json:"comment"`
	Dept               *string `json:"dept"`
	Name               *string `json:"name"`
	Email              *string `json:"email"`
	IsDisclosureAgreed bool    `json:"is_disclosure_agreed"`
}

type upvoteResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

func (s *SurveyService) Upvote(w http.ResponseWriter, r *http.Request) {
	opinionId, err := urlParamInt(r, "opinion_id")
	if err != nil {
		writeError(w, "recording upvote", err)
		return
	}

	var params upvoteRequest
	if !utils.ParseOptionalRequestBody(w, r, &params) {
		return
	}

	pii := moderation.UpvotePii(params.IsDisclosureAgreed, params.Dept, params.Name, params.Email)
	upvote := moderation.NewUpvote(opinionId, moderation.Fingerprint(r), params.Comment, pii)

	err = s.store.InTenant(r.Context(), func(tx *tenancy.Tx) error {
		if tx.Binding().Status != schema.SurveyActive {
			return schema.NewValidationError("", "voting is closed for this survey")
		}

		if _, err := schema.GetOpinion(opinionId, tx); err != nil {
			return err
		}

		var existing int64
		result := tx.Table(schema.UpvotesTable).
			Where("opinion_id = ? AND user_hash = ?", opinionId, upvote.UserHash).
			Count(&existing)
		if result.Error != nil {
			return result.Error
		}
		if existing > 0 {
			return schema.ErrDuplicateVote
		}

		return tx.Table(schema.UpvotesTable).Create(&upvote).Error
	})
	if err != nil {
		writeError(w, "recording upvote", err)
		return
	}

	metrics.UpvotesCounter.WithLabelValues(upvote.Status).Inc()

	message := "Thank you for your support!"
	if upvote.Status == schema.UpvotePending {
		message = "Thank you for your support! Your comment will be shown after review."
	}

	utils.WriteJsonResponse(w, upvoteResponse{Status: upvote.Status, Message: message})
}
