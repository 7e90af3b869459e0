package auth

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"survey_engine/utils"
	"time"

	"github.com/go-chi/jwtauth/v5"
	"github.com/google/uuid"
)

var (
	ErrMissingToken = errors.New("missing access token")
	ErrInvalidToken = errors.New("invalid or expired access token")
	ErrWrongSurvey  = errors.New("access token was not issued for this survey")
)

type JwtManager struct {
	auth *jwtauth.JWTAuth
	exp  time.Duration
}

func NewJwtManager(secret []byte, exp time.Duration) *JwtManager {
	return &JwtManager{auth: jwtauth.New("HS256", secret, nil), exp: exp}
}

func (m *JwtManager) Verifier() func(http.Handler) http.Handler {
	return jwtauth.Verifier(m.auth)
}

// Authenticator rejects requests whose token is missing, malformed or expired.
func (m *JwtManager) Authenticator() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, _, err := jwtauth.FromContext(r.Context())
			if err != nil {
				if errors.Is(err, jwtauth.ErrNoTokenFound) {
					http.Error(w, ErrMissingToken.Error(), http.StatusUnauthorized)
					return
				}
				http.Error(w, ErrInvalidToken.Error(), http.StatusUnauthorized)
				return
			}
			if token == nil {
				http.Error(w, ErrInvalidToken.Error(), http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

const surveyIdKey = "sub"

func (m *JwtManager) createToken(key, value string, exp time.Duration) (string, error) {
	claims := map[string]interface{}{
		key:   value,
		"exp": time.Now().Add(exp),
	}
	_, token, err := m.auth.Encode(claims)
	if err != nil {
		slog.Error("error generating jwt", "error", err)
		return "", fmt.Errorf("error generating access token: %w", err)
	}
	return token, nil
}

func (m *JwtManager) CreateManagerJwt(surveyId uuid.UUID) (string, error) {
	return m.createToken(surveyIdKey, surveyId.String(), m.exp)
}

func ValueFromContext(r *http.Request, key string) (string, error) {
	_, claims, err := jwtauth.FromContext(r.Context())
	if err != nil {
		return "", fmt.Errorf("error retrieving auth claims: %w", err)
	}

	valueUncasted, ok := claims[key]
	if !ok {
		return "", fmt.Errorf("invalid token: unable to locate key %v in claims", key)
	}

	value, ok := valueUncasted.(string)
	if !ok {
		return "", fmt.Errorf("invalid token: value for key %v has invalid type", key)
	}

	return value, nil
}

func SurveyIdFromContext(r *http.Request) (uuid.UUID, error) {
	value, err := ValueFromContext(r, surveyIdKey)
	if err != nil {
		return uuid.UUID{}, err
	}

	id, err := uuid.Parse(value)
	if err != nil {
		return uuid.UUID{}, fmt.Errorf("invalid uuid '%v' provided: %w", value, err)
	}
	return id, nil
}

// RequireSurvey only lets a token through on routes of the survey it was
// issued for. The route survey is read from the given url parameter.
func RequireSurvey(param string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenSurvey, err := SurveyIdFromContext(r)
			if err != nil {
				http.Error(w, ErrInvalidToken.Error(), http.StatusUnauthorized)
				return
			}

			routeSurvey, err := utils.URLParamUUID(r, param)
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}

			if tokenSurvey != routeSurvey {
				slog.Warn("manager token used for another survey", "token_survey_id", tokenSurvey, "survey_id", routeSurvey)
				http.Error(w, ErrWrongSurvey.Error(), http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r.WithContext(withActor(r.Context(), "manager:"+tokenSurvey.String())))
		})
	}
}
