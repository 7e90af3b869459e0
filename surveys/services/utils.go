package services

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"survey_engine/surveys/provisioning"
	"survey_engine/surveys/registry"
	"survey_engine/surveys/schema"
	"survey_engine/surveys/tenancy"
	"survey_engine/utils"

	"gorm.io/gorm"
)

type codedError struct {
	err  error
	code int
}

func (e *codedError) Error() string {
	return e.err.Error()
}

func (e *codedError) Unwrap() error {
	return e.err
}

func CodedError(err error, code int) error {
	return &codedError{err: err, code: code}
}

func GetResponseCode(err error) int {
	var cerr *codedError
	if errors.As(err, &cerr) {
		return cerr.code
	}
	slog.Error("non coded error passed to GetResponseCode", "error", err)
	return http.StatusInternalServerError
}

var notFoundErrors = []error{
	schema.ErrSurveyNotFound,
	schema.ErrQuestionNotFound,
	schema.ErrResponseNotFound,
	schema.ErrOpinionNotFound,
	schema.ErrUpvoteNotFound,
}

// classifyError attaches a response code to errors coming out of the data
// layer. Unexpected errors are logged and replaced so that sql details never
// reach the client.
func classifyError(err error) error {
	var cerr *codedError
	if errors.As(err, &cerr) {
		return err
	}

	for _, target := range notFoundErrors {
		if errors.Is(err, target) {
			return CodedError(err, http.StatusNotFound)
		}
	}

	var verr schema.ValidationError
	switch {
	case errors.As(err, &verr):
		return CodedError(err, http.StatusBadRequest)
	case errors.Is(err, tenancy.ErrNamespaceNotProvisioned):
		return CodedError(tenancy.ErrNamespaceNotProvisioned, http.StatusBadRequest)
	case errors.Is(err, schema.ErrDuplicateVote), errors.Is(err, gorm.ErrDuplicatedKey):
		return CodedError(schema.ErrDuplicateVote, http.StatusConflict)
	case errors.Is(err, registry.ErrInvalidSecret):
		return CodedError(err, http.StatusUnauthorized)
	case errors.Is(err, provisioning.ErrProvisioningFailed), errors.Is(err, provisioning.ErrDeprovisioningFailed):
		return CodedError(err, http.StatusInternalServerError)
	case errors.Is(err, schema.ErrDbAccessFailed):
		return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
	}

	slog.Error("unexpected error", "error", err)
	return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
}

func writeError(w http.ResponseWriter, action string, err error) {
	err = classifyError(err)
	http.Error(w, fmt.Sprintf("error %v: %v", action, err), GetResponseCode(err))
}

func surveyBinding(r *http.Request) (tenancy.Binding, error) {
	binding, err := tenancy.Require(r.Context())
	if err != nil {
		return binding, CodedError(err, http.StatusNotFound)
	}
	return binding, nil
}

func urlParamInt(r *http.Request, key string) (int64, error) {
	value, err := utils.URLParamInt(r, key)
	if err != nil {
		return 0, CodedError(err, http.StatusBadRequest)
	}
	return value, nil
}
