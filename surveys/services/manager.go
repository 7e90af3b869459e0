package services

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"survey_engine/surveys/auth"
	"survey_engine/surveys/export"
	"survey_engine/surveys/registry"
	"survey_engine/surveys/schema"
	"survey_engine/surveys/tenancy"
	"survey_engine/utils"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// ManagerService is the read only api of survey managers. Managers log in
// with the access code of one survey and only ever see that survey.
type ManagerService struct {
	store *tenancy.Store
	jwt   *auth.JwtManager
	audit auth.AuditLogger
	debug bool
}

func (s *ManagerService) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/auth", s.Auth)

	r.Route("/{survey_id}", func(r chi.Router) {
		r.Use(s.jwt.Verifier())
		r.Use(s.jwt.Authenticator())
		r.Use(auth.RequireSurvey("survey_id"))
		r.Use(s.audit.Middleware)

		r.Get("/survey", s.Survey)
		r.Get("/opinions", s.Opinions)
		r.Get("/opinions/{opinion_id}/upvotes", s.Upvotes)
		r.Get("/export", s.Export)

		if s.debug {
			r.Get("/debug/namespace", debugNamespace)
		}
	})

	return r
}

type managerAuthRequest struct {
	SurveyId   string `json:"survey_id"`
	AccessCode string `json:"access_code"`
}

type managerAuthResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

func (s *ManagerService) Auth(w http.ResponseWriter, r *http.Request) {
	var params managerAuthRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	if strings.TrimSpace(params.SurveyId) == "" || strings.TrimSpace(params.AccessCode) == "" {
		http.Error(w, "survey_id and access_code must be specified", http.StatusBadRequest)
		return
	}

	surveyId, err := uuid.Parse(strings.TrimSpace(params.SurveyId))
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid survey_id '%v': %v", params.SurveyId, err), http.StatusBadRequest)
		return
	}

	survey, err := registry.VerifySecret(surveyId, params.AccessCode, s.store.DB().WithContext(r.Context()))
	if err != nil {
		if errors.Is(err, registry.ErrInvalidSecret) {
			slog.Warn("manager login with invalid access code", "survey_id", surveyId)
		}
		writeError(w, "authenticating manager", err)
		return
	}

	token, err := s.jwt.CreateManagerJwt(survey.Id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	slog.Info("manager logged in", "survey_id", survey.Id)

	utils.WriteJsonResponse(w, managerAuthResponse{AccessToken: token, TokenType: "bearer"})
}

// managerBinding checks that the request was bound to the survey the token
// was issued for. A survey header pointing elsewhere is refused.
func managerBinding(r *http.Request) (tenancy.Binding, error) {
	binding, err := surveyBinding(r)
	if err != nil {
		return binding, err
	}

	surveyId, err := auth.SurveyIdFromContext(r)
	if err != nil {
		return binding, CodedError(err, http.StatusUnauthorized)
	}

	if binding.SurveyId != surveyId {
		return binding, CodedError(auth.ErrWrongSurvey, http.StatusForbidden)
	}
	return binding, nil
}

func (s *ManagerService) inSurvey(r *http.Request, fn func(tx *tenancy.Tx) error) error {
	if _, err := managerBinding(r); err != nil {
		return err
	}
	return s.store.InTenant(r.Context(), fn)
}

type managerSurveyResponse struct {
	Id     uuid.UUID `json:"id"`
	Name   string    `json:"name"`
	Status string    `json:"status"`
}

func (s *ManagerService) Survey(w http.ResponseWriter, r *http.Request) {
	var res managerSurveyResponse
	err := s.inSurvey(r, func(tx *tenancy.Tx) error {
		survey, err := schema.GetSurvey(tx.Binding().SurveyId, tx.Shared())
		if err != nil {
			return err
		}
		res = managerSurveyResponse{Id: survey.Id, Name: survey.Name, Status: survey.Status}
		return nil
	})
	if err != nil {
		writeError(w, "retrieving survey", err)
		return
	}

	utils.WriteJsonResponse(w, res)
}

func (s *ManagerService) Opinions(w http.ResponseWriter, r *http.Request) {
	var opinions []OpinionInfo
	err := s.inSurvey(r, func(tx *tenancy.Tx) error {
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

func (s *ManagerService) Upvotes(w http.ResponseWriter, r *http.Request) {
	opinionId, err := urlParamInt(r, "opinion_id")
	if err != nil {
		writeError(w, "listing upvotes", err)
		return
	}

	var upvotes []UpvoteInfo
	err = s.inSurvey(r, func(tx *tenancy.Tx) error {
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

var errUnsupportedFormat = errors.New("unsupported export format")

func (s *ManagerService) Export(w http.ResponseWriter, r *http.Request) {
	format := strings.ToLower(r.URL.Query().Get("format"))
	if format == "" {
		format = "xlsx"
	}
	if format != "xlsx" && format != "pdf" {
		http.Error(w, fmt.Sprintf("%v '%v', must be 'xlsx' or 'pdf'", errUnsupportedFormat, format), http.StatusBadRequest)
		return
	}

	var report export.Report
	err := s.inSurvey(r, func(tx *tenancy.Tx) error {
		survey, err := schema.GetSurvey(tx.Binding().SurveyId, tx.Shared())
		if err != nil {
			return err
		}

		opinions, err := listOpinions(tx, "")
		if err != nil {
			return err
		}
		supporters, err := schema.CountUpvotes(opinionIds(opinions), "", tx)
		if err != nil {
			return err
		}

		report.SurveyName = survey.Name
		for _, o := range opinions {
			report.Opinions = append(report.Opinions, export.NewRow(o, supporters[o.Id]))
		}
		return nil
	})
	if err != nil {
		writeError(w, "exporting opinions", err)
		return
	}

	var data []byte
	var contentType string
	if format == "pdf" {
		data, err = export.BuildPdf(report)
		contentType = export.PdfContentType
	} else {
		data, err = export.BuildXlsx(report)
		contentType = export.XlsxContentType
	}
	if err != nil {
		slog.Error("error building export", "format", format, "error", err)
		http.Error(w, fmt.Sprintf("error exporting opinions: %v", err), http.StatusInternalServerError)
		return
	}

	slog.Info("exported opinions", "format", format, "count", len(report.Opinions))

	utils.WriteAttachment(w, contentType, export.Filename(report.SurveyName, format), data)
}
