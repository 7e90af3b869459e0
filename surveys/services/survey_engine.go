package services

import (
	"log"
	"net/http"
	"os"
	"survey_engine/surveys/auth"
	"survey_engine/surveys/provisioning"
	"survey_engine/surveys/registry"
	"survey_engine/surveys/tenancy"
	"survey_engine/utils"
	"survey_engine/utils/metrics"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
)

type Options struct {
	Debug              bool
	RateLimitPerMinute int
}

type SurveyEngine struct {
	admin   AdminService
	survey  SurveyService
	manager ManagerService

	resolver *tenancy.Resolver
	debug    bool
}

func NewSurveyEngine(
	store *tenancy.Store, adminKey *auth.AdminKey, jwt *auth.JwtManager, audit auth.AuditLogger, opts Options,
) SurveyEngine {
	return SurveyEngine{
		admin: AdminService{
			store:        store,
			provisioning: provisioning.NewService(store),
			adminKey:     adminKey,
			audit:        audit,
		},
		survey: SurveyService{
			store:              store,
			rateLimitPerMinute: opts.RateLimitPerMinute,
			debug:              opts.Debug,
		},
		manager: ManagerService{
			store: store,
			jwt:   jwt,
			audit: audit,
			debug: opts.Debug,
		},
		resolver: tenancy.NewResolver(registry.New(store.DB()), ""),
		debug:    opts.Debug,
	}
}

func (e *SurveyEngine) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestLogger(&middleware.DefaultLogFormatter{
		Logger: log.New(os.Stderr, "", log.LstdFlags), NoColor: false,
	}))
	r.Use(metrics.Middleware)
	r.Use(e.resolver.Middleware)

	r.Mount("/admin", e.admin.Routes())
	r.Mount("/survey", e.survey.Routes())
	r.Mount("/manager", e.manager.Routes())

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		utils.WriteSuccess(w)
	})
	r.Handle("/metrics", metrics.Handler())

	if e.debug {
		r.Get("/debug/namespace", debugNamespace)
	}

	return r
}

type namespaceResponse struct {
	Bound     bool       `json:"bound"`
	SurveyId  *uuid.UUID `json:"survey_id"`
	Namespace *string    `json:"namespace"`
	Status    *string    `json:"status"`
}

// debugNamespace reports the namespace the request was bound to.
func debugNamespace(w http.ResponseWriter, r *http.Request) {
	binding, ok := tenancy.FromContext(r.Context())
	if !ok {
		utils.WriteJsonResponse(w, namespaceResponse{Bound: false})
		return
	}

	ns := binding.Namespace.String()
	utils.WriteJsonResponse(w, namespaceResponse{
		Bound:     true,
		SurveyId:  &binding.SurveyId,
		Namespace: &ns,
		Status:    &binding.Status,
	})
}
