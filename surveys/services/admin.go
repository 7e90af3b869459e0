package services

import (
	"log/slog"
	"net/http"
	"strings"
	"survey_engine/surveys/auth"
	"survey_engine/surveys/moderation"
	"survey_engine/surveys/provisioning"
	"survey_engine/surveys/registry"
	"survey_engine/surveys/schema"
	"survey_engine/surveys/scoring"
	"survey_engine/surveys/tenancy"
	"survey_engine/utils"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

type AdminService struct {
	store        *tenancy.Store
	provisioning *provisioning.Service
	adminKey     *auth.AdminKey
	audit        auth.AuditLogger
}

func (s *AdminService) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(s.adminKey.Middleware)
	r.Use(s.audit.Middleware)

	r.Post("/verify", s.Verify)

	r.Route("/surveys", func(r chi.Router) {
		r.Post("/", s.CreateSurvey)
		r.Get("/", s.ListSurveys)

		r.Route("/{survey_id}", func(r chi.Router) {
			r.Get("/", s.GetSurvey)
			r.Patch("/", s.UpdateSurvey)
			r.Delete("/", s.DeleteSurvey)
			r.Post("/reset-access-code", s.ResetAccessCode)

			r.Post("/questions", s.CreateQuestion)
			r.Get("/questions", s.ListQuestions)
			r.Delete("/questions/{question_id}", s.DeleteQuestion)

			r.Get("/responses", s.ListResponses)
			r.Get("/responses/{response_id}", s.GetResponse)

			r.Post("/opinions", s.CreateOpinion)
			r.Get("/opinions", s.ListOpinions)
			r.Put("/opinions/{opinion_id}", s.UpdateOpinion)
			r.Post("/opinions/{opinion_id}/recompute-supporters", s.RecomputeSupporters)
			r.Get("/opinions/{opinion_id}/upvotes", s.ListUpvotes)

			r.Put("/upvotes/{upvote_id}", s.UpdateUpvote)
		})
	})

	return r
}

func (s *AdminService) Verify(w http.ResponseWriter, r *http.Request) {
	utils.WriteJsonResponse(w, map[string]bool{"valid": true})
}

type createSurveyRequest struct {
	Name  string  `json:"name"`
	Notes *string `json:"notes"`
}

func (s *AdminService) CreateSurvey(w http.ResponseWriter, r *http.Request) {
	var params createSurveyRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	survey, _, err := s.provisioning.Provision(r.Context(), params.Name, params.Notes)
	if err != nil {
		writeError(w, "creating survey", err)
		return
	}

	slog.Info("created survey", "survey_id", survey.Id, "name", survey.Name)

	utils.WriteJsonResponse(w, convertToSurveyInfo(survey, true))
}

func (s *AdminService) ListSurveys(w http.ResponseWriter, r *http.Request) {
	surveys, err := registry.List(s.store.DB().WithContext(r.Context()))
	if err != nil {
		writeError(w, "listing surveys", err)
		return
	}

	infos := make([]SurveyInfo, 0, len(surveys))
	for _, survey := range surveys {
		infos = append(infos, convertToSurveyInfo(survey, true))
	}

	utils.WriteJsonResponse(w, infos)
}

func surveyIdParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	surveyId, err := utils.URLParamUUID(r, "survey_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return uuid.Nil, false
	}
	return surveyId, true
}

func (s *AdminService) GetSurvey(w http.ResponseWriter, r *http.Request) {
	surveyId, ok := surveyIdParam(w, r)
	if !ok {
		return
	}

	survey, err := registry.Get(surveyId, s.store.DB().WithContext(r.Context()))
	if err != nil {
		writeError(w, "retrieving survey", err)
		return
	}

	utils.WriteJsonResponse(w, convertToSurveyInfo(survey, true))
}

type updateSurveyRequest struct {
	Name   *string `json:"name"`
	Notes  *string `json:"notes"`
	Status *string `json:"status"`
}

func (s *AdminService) UpdateSurvey(w http.ResponseWriter, r *http.Request) {
	surveyId, ok := surveyIdParam(w, r)
	if !ok {
		return
	}

	var params updateSurveyRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	patch := registry.Patch{Name: params.Name, Notes: params.Notes, Status: params.Status}
	survey, err := registry.Update(surveyId, patch, s.store.DB().WithContext(r.Context()))
	if err != nil {
		writeError(w, "updating survey", err)
		return
	}

	slog.Info("updated survey", "survey_id", surveyId, "status", survey.Status)

	utils.WriteJsonResponse(w, convertToSurveyInfo(survey, true))
}

func (s *AdminService) DeleteSurvey(w http.ResponseWriter, r *http.Request) {
	surveyId, ok := surveyIdParam(w, r)
	if !ok {
		return
	}

	if err := s.provisioning.Deprovision(r.Context(), surveyId); err != nil {
		writeError(w, "deleting survey", err)
		return
	}

	utils.WriteSuccess(w)
}

type accessCodeResponse struct {
	AccessCode string `json:"access_code"`
}

func (s *AdminService) ResetAccessCode(w http.ResponseWriter, r *http.Request) {
	surveyId, ok := surveyIdParam(w, r)
	if !ok {
		return
	}

	secret, err := registry.ResetSecret(surveyId, s.store.DB().WithContext(r.Context()))
	if err != nil {
		writeError(w, "resetting access code", err)
		return
	}

	slog.Info("reset survey access code", "survey_id", surveyId)

	utils.WriteJsonResponse(w, accessCodeResponse{AccessCode: secret})
}

type createQuestionRequest struct {
	Label          string   `json:"label"`
	QuestionType   string   `json:"question_type"`
	Options        []string `json:"options"`
	IsRequired     bool     `json:"is_required"`
	IsPersonalData bool     `json:"is_personal_data"`
}

func (req *createQuestionRequest) validate() error {
	req.Label = strings.TrimSpace(req.Label)
	if req.Label == "" {
		return schema.NewValidationError("label", "question label cannot be empty")
	}

	if req.QuestionType == "" {
		req.QuestionType = schema.TextQuestion
	}
	if err := schema.CheckQuestionType(req.QuestionType); err != nil {
		return err
	}

	options := make([]string, 0, len(req.Options))
	for _, opt := range req.Options {
		if opt = strings.TrimSpace(opt); opt != "" {
			options = append(options, opt)
		}
	}
	req.Options = options

	if (req.QuestionType == schema.SelectQuestion || req.QuestionType == schema.RadioQuestion) && len(req.Options) == 0 {
		return schema.NewValidationError("options", "%v questions need at least one option", req.QuestionType)
	}
	return nil
}

func (s *AdminService) CreateQuestion(w http.ResponseWriter, r *http.Request) {
	var params createQuestionRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	if err := params.validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var question schema.Question
	err := s.store.InTenant(r.Context(), func(tx *tenancy.Tx) error {
		question = schema.Question{
			SurveyId:       tx.Binding().SurveyId,
			Label:          params.Label,
			QuestionType:   params.QuestionType,
			Options:        params.Options,
			IsRequired:     params.IsRequired,
			IsPersonalData: params.IsPersonalData,
		}
		return tx.Table(schema.QuestionsTable).Create(&question).Error
	})
	if err != nil {
		writeError(w, "creating question", err)
		return
	}

	utils.WriteJsonResponse(w, convertToQuestionInfo(question))
}

func (s *AdminService) ListQuestions(w http.ResponseWriter, r *http.Request) {
	var questions []schema.Question
	err := s.store.InTenant(r.Context(), func(tx *tenancy.Tx) error {
		var err error
		questions, err = schema.ListQuestions(tx.Binding().SurveyId, tx)
		return err
	})
	if err != nil {
		writeError(w, "listing questions", err)
		return
	}

	utils.WriteJsonResponse(w, convertToQuestionInfos(questions))
}

func (s *AdminService) DeleteQuestion(w http.ResponseWriter, r *http.Request) {
	questionId, err := urlParamInt(r, "question_id")
	if err != nil {
		writeError(w, "deleting question", err)
		return
	}

	err = s.store.InTenant(r.Context(), func(tx *tenancy.Tx) error {
		if _, err := schema.GetQuestion(questionId, tx); err != nil {
			return err
		}
		return tx.Table(schema.QuestionsTable).Where("id = ?", questionId).Delete(&schema.Question{}).Error
	})
	if err != nil {
		writeError(w, "deleting question", err)
		return
	}

	utils.WriteSuccess(w)
}

func (s *AdminService) ListResponses(w http.ResponseWriter, r *http.Request) {
	summaries := make([]ResponseSummary, 0)
	err := s.store.InTenant(r.Context(), func(tx *tenancy.Tx) error {
		var responses []schema.RawResponse
		result := tx.Table(schema.RawResponsesTable).Order("submitted_at DESC").Order("id").Find(&responses)
		if result.Error != nil {
			return result.Error
		}

		type countRow struct {
			ResponseId uuid.UUID
			Count      int64
		}
		var counts []countRow
		result = tx.Table(schema.RawAnswersTable).Select("response_id, count(*) AS count").Group("response_id").Scan(&counts)
		if result.Error != nil {
			return result.Error
		}
		byResponse := make(map[uuid.UUID]int64, len(counts))
		for _, c := range counts {
			byResponse[c.ResponseId] = c.Count
		}

		for _, response := range responses {
			summaries = append(summaries, ResponseSummary{
				Id:          response.Id,
				SubmittedAt: response.SubmittedAt,
				AnswerCount: byResponse[response.Id],
			})
		}
		return nil
	})
	if err != nil {
		writeError(w, "listing responses", err)
		return
	}

	utils.WriteJsonResponse(w, summaries)
}

func (s *AdminService) GetResponse(w http.ResponseWriter, r *http.Request) {
	responseId, err := utils.URLParamUUID(r, "response_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var info ResponseInfo
	err = s.store.InTenant(r.Context(), func(tx *tenancy.Tx) error {
		response, err := schema.GetRawResponse(responseId, tx)
		if err != nil {
			return err
		}
		answers, err := schema.ListRawAnswers(responseId, tx)
		if err != nil {
			return err
		}
		questions, err := schema.ListQuestions(tx.Binding().SurveyId, tx)
		if err != nil {
			return err
		}
		info = convertToResponseInfo(response, questions, answers)
		return nil
	})
	if err != nil {
		writeError(w, "retrieving response", err)
		return
	}

	utils.WriteJsonResponse(w, info)
}

type createOpinionRequest struct {
	RawResponseId  uuid.UUID `json:"raw_response_id"`
	Title          string    `json:"title"`
	Content        string    `json:"content"`
	AdminNotes     *string   `json:"admin_notes"`
	Importance     int       `json:"importance"`
	Urgency        int       `json:"urgency"`
	ExpectedImpact int       `json:"expected_impact"`
}

func (req *createOpinionRequest) validate() error {
	if req.RawResponseId == uuid.Nil {
		return schema.NewValidationError("raw_response_id", "raw response must be specified")
	}
	req.Title = strings.TrimSpace(req.Title)
	if req.Title == "" {
		return schema.NewValidationError("title", "opinion title cannot be empty")
	}
	req.Content = strings.TrimSpace(req.Content)
	if req.Content == "" {
		return schema.NewValidationError("content", "opinion content cannot be empty")
	}
	return scoring.Components{Importance: req.Importance, Urgency: req.Urgency, ExpectedImpact: req.ExpectedImpact}.Validate()
}

func (s *AdminService) CreateOpinion(w http.ResponseWriter, r *http.Request) {
	var params createOpinionRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	if err := params.validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var opinion schema.PublishedOpinion
	err := s.store.InTenant(r.Context(), func(tx *tenancy.Tx) error {
		if _, err := schema.GetRawResponse(params.RawResponseId, tx); err != nil {
			return err
		}
		answers, err := schema.ListRawAnswers(params.RawResponseId, tx)
		if err != nil {
			return err
		}
		questions, err := schema.ListQuestions(tx.Binding().SurveyId, tx)
		if err != nil {
			return err
		}

		opinion = schema.PublishedOpinion{
			RawResponseId: params.RawResponseId,
			Title:         params.Title,
			Content:       params.Content,
			AdminNotes:    params.AdminNotes,
			DisclosedPii:  moderation.ExtractDisclosedPii(questions, answers),
		}
		scoring.Components{
			Importance:     params.Importance,
			Urgency:        params.Urgency,
			ExpectedImpact: params.ExpectedImpact,
		}.Apply(&opinion)

		return tx.Table(schema.OpinionsTable).Create(&opinion).Error
	})
	if err != nil {
		writeError(w, "creating opinion", err)
		return
	}

	slog.Info("published opinion", "opinion_id", opinion.Id, "priority_score", opinion.PriorityScore)

	utils.WriteJsonResponse(w, convertToOpinionInfo(opinion, 0, 0))
}

func (s *AdminService) ListOpinions(w http.ResponseWriter, r *http.Request) {
	var opinions []OpinionInfo
	err := s.store.InTenant(r.Context(), func(tx *tenancy.Tx) error {
		var err error
		opinions, err = listOpinionInfos(tx)
		return err
	})
	if err != nil {
		writeError(w, "listing opinions", err)
		return
	}

	utils.WriteJsonResponse(w, opinions)
}

type updateOpinionRequest struct {
	Title           *string `json:"title"`
	Content         *string `json:"content"`
	AdminNotes      *string `json:"admin_notes"`
	Importance      *int    `json:"importance"`
	Urgency         *int    `json:"urgency"`
	ExpectedImpact  *int    `json:"expected_impact"`
	SupporterPoints *int    `json:"supporter_points"`
}

// apply merges the request into the opinion and recomputes its score.
func (req *updateOpinionRequest) apply(opinion *schema.PublishedOpinion) error {
	if req.Title != nil {
		title := strings.TrimSpace(*req.Title)
		if title == "" {
			return schema.NewValidationError("title", "opinion title cannot be empty")
		}
		opinion.Title = title
	}
	if req.Content != nil {
		content := strings.TrimSpace(*req.Content)
		if content == "" {
			return schema.NewValidationError("content", "opinion content cannot be empty")
		}
		opinion.Content = content
	}
	if req.AdminNotes != nil {
		opinion.AdminNotes = req.AdminNotes
	}

	components := scoring.ComponentsOf(opinion)
	if req.Importance != nil {
		components.Importance = *req.Importance
	}
	if req.Urgency != nil {
		components.Urgency = *req.Urgency
	}
	if req.ExpectedImpact != nil {
		components.ExpectedImpact = *req.ExpectedImpact
	}
	if req.SupporterPoints != nil {
		components.SupporterPoints = *req.SupporterPoints
	}
	if err := components.Validate(); err != nil {
		return err
	}
	components.Apply(opinion)

	return nil
}

func saveOpinion(tx *tenancy.Tx, opinion *schema.PublishedOpinion) error {
	opinion.UpdatedAt = time.Now().UTC()
	return tx.Table(schema.OpinionsTable).Where("id = ?", opinion.Id).Updates(map[string]interface{}{
		"title":            opinion.Title,
		"content":          opinion.Content,
		"admin_notes":      opinion.AdminNotes,
		"importance":       opinion.Importance,
		"urgency":          opinion.Urgency,
		"expected_impact":  opinion.ExpectedImpact,
		"supporter_points": opinion.SupporterPoints,
		"priority_score":   opinion.PriorityScore,
		"updated_at":       opinion.UpdatedAt,
	}).Error
}

func opinionView(tx *tenancy.Tx, opinion schema.PublishedOpinion) (OpinionInfo, error) {
	ids := []int64{opinion.Id}
	supporters, err := schema.CountUpvotes(ids, "", tx)
	if err != nil {
		return OpinionInfo{}, err
	}
	pending, err := schema.CountUpvotes(ids, schema.UpvotePending, tx)
	if err != nil {
		return OpinionInfo{}, err
	}
	return convertToOpinionInfo(opinion, supporters[opinion.Id], pending[opinion.Id]), nil
}

func (s *AdminService) UpdateOpinion(w http.ResponseWriter, r *http.Request) {
	opinionId, err := urlParamInt(r, "opinion_id")
	if err != nil {
		writeError(w, "updating opinion", err)
		return
	}

	var params updateOpinionRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	var info OpinionInfo
	err = s.store.InTenant(r.Context(), func(tx *tenancy.Tx) error {
		opinion, err := schema.GetOpinion(opinionId, tx)
		if err != nil {
			return err
		}
		if err := params.apply(&opinion); err != nil {
			return err
		}
		if err := saveOpinion(tx, &opinion); err != nil {
			return err
		}
		info, err = opinionView(tx, opinion)
		return err
	})
	if err != nil {
		writeError(w, "updating opinion", err)
		return
	}

	utils.WriteJsonResponse(w, info)
}

// RecomputeSupporters refreshes the supporter points of an opinion from its
// live vote count, the only way the stored points follow the votes.
func (s *AdminService) RecomputeSupporters(w http.ResponseWriter, r *http.Request) {
	opinionId, err := urlParamInt(r, "opinion_id")
	if err != nil {
		writeError(w, "recomputing supporters", err)
		return
	}

	var info OpinionInfo
	err = s.store.InTenant(r.Context(), func(tx *tenancy.Tx) error {
		opinion, err := schema.GetOpinion(opinionId, tx)
		if err != nil {
			return err
		}

		counts, err := schema.CountUpvotes([]int64{opinionId}, "", tx)
		if err != nil {
			return err
		}

		components := scoring.ComponentsOf(&opinion)
		components.SupporterPoints = scoring.SupporterPointsFromCount(counts[opinionId])
		components.Apply(&opinion)

		if err := saveOpinion(tx, &opinion); err != nil {
			return err
		}
		info, err = opinionView(tx, opinion)
		return err
	})
	if err != nil {
		writeError(w, "recomputing supporters", err)
		return
	}

	utils.WriteJsonResponse(w, info)
}

func (s *AdminService) ListUpvotes(w http.ResponseWriter, r *http.Request) {
	opinionId, err := urlParamInt(r, "opinion_id")
	if err != nil {
		writeError(w, "listing upvotes", err)
		return
	}

	var upvotes []UpvoteInfo
	err = s.store.InTenant(r.Context(), func(tx *tenancy.Tx) error {
		var err error
		upvotes, err = listUpvoteInfos(tx, opinionId)
		return err
	})
	if err != nil {
		writeError(w, "listing upvotes", err)
		return
	}

	utils.WriteJsonResponse(w, upvotes)
}

type updateUpvoteRequest struct {
	PublishedComment *string `json:"published_comment"`
	Status           *string `json:"status"`
}

func (s *AdminService) UpdateUpvote(w http.ResponseWriter, r *http.Request) {
	upvoteId, err := urlParamInt(r, "upvote_id")
	if err != nil {
		writeError(w, "updating upvote", err)
		return
	}

	var params updateUpvoteRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	var upvote schema.Upvote
	err = s.store.InTenant(r.Context(), func(tx *tenancy.Tx) error {
		var err error
		upvote, err = schema.GetUpvote(upvoteId, tx)
		if err != nil {
			return err
		}

		update := moderation.UpvoteUpdate{PublishedComment: params.PublishedComment, Status: params.Status}
		if err := moderation.ApplyUpvoteUpdate(&upvote, update); err != nil {
			return err
		}

		return tx.Table(schema.UpvotesTable).Where("id = ?", upvoteId).Updates(map[string]interface{}{
			"status":            upvote.Status,
			"published_comment": upvote.PublishedComment,
		}).Error
	})
	if err != nil {
		writeError(w, "updating upvote", err)
		return
	}

	slog.Info("moderated upvote", "upvote_id", upvoteId, "status", upvote.Status)

	utils.WriteJsonResponse(w, convertToUpvoteInfo(upvote))
}
