package tenancy

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"survey_engine/surveys/schema"
	"survey_engine/utils/metrics"

	"github.com/google/uuid"
)

const SurveyHeader = "X-Survey-UUID"

var surveyPathPattern = regexp.MustCompile(
	`^/(?:survey|manager|admin/surveys)/([0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12})(?:/|$)`,
)

// Lookup finds the binding of a survey in the shared namespace. It returns
// schema.ErrSurveyNotFound for unknown ids.
type Lookup interface {
	LookupBinding(ctx context.Context, surveyId uuid.UUID) (Binding, error)
}

// Resolver binds each request to the namespace of the survey it addresses.
// It never fails a request: unresolved requests continue unbound and
// handlers that need tenant data reject them.
type Resolver struct {
	lookup   Lookup
	basePath string
}

func NewResolver(lookup Lookup, basePath string) *Resolver {
	return &Resolver{lookup: lookup, basePath: strings.TrimSuffix(basePath, "/")}
}

// candidate returns the survey id carried by the request and where it was
// found. The header wins over the path, a malformed header is ignored.
func (res *Resolver) candidate(r *http.Request) (uuid.UUID, string, bool) {
	if header := strings.TrimSpace(r.Header.Get(SurveyHeader)); header != "" {
		if id, err := uuid.Parse(header); err == nil {
			return id, "header", true
		}
		slog.Debug("ignoring malformed survey header", "value", header)
	}

	path := strings.TrimPrefix(r.URL.Path, res.basePath)
	if match := surveyPathPattern.FindStringSubmatch(path); match != nil {
		if id, err := uuid.Parse(match[1]); err == nil {
			return id, "path", true
		}
	}

	return uuid.Nil, "none", false
}

func (res *Resolver) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		surveyId, source, ok := res.candidate(r)
		if !ok {
			metrics.TenantResolutions.WithLabelValues(source, "unbound").Inc()
			next.ServeHTTP(w, r)
			return
		}

		binding, err := res.lookup.LookupBinding(r.Context(), surveyId)
		if err != nil {
			outcome := "error"
			if errors.Is(err, schema.ErrSurveyNotFound) {
				outcome = "unknown"
			} else {
				slog.Error("tenant resolution failed", "survey_id", surveyId, "source", source, "error", err)
			}
			metrics.TenantResolutions.WithLabelValues(source, outcome).Inc()
			next.ServeHTTP(w, r)
			return
		}

		metrics.TenantResolutions.WithLabelValues(source, "bound").Inc()
		next.ServeHTTP(w, r.WithContext(WithBinding(r.Context(), binding)))
	})
}
