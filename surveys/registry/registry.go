package registry

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"survey_engine/surveys/schema"
	"survey_engine/surveys/tenancy"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	ContractWindow  = 30 * 24 * time.Hour
	RetentionWindow = 90 * 24 * time.Hour

	secretAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	secretLength   = 8
)

var (
	ErrInvalidSecret  = errors.New("invalid access code")
	ErrNamespaceInUse = errors.New("namespace already in use")
)

func GenerateSecret() (string, error) {
	alphabetSize := big.NewInt(int64(len(secretAlphabet)))

	secret := make([]byte, secretLength)
	for i := range secret {
		n, err := rand.Int(rand.Reader, alphabetSize)
		if err != nil {
			return "", fmt.Errorf("error generating access code: %w", err)
		}
		secret[i] = secretAlphabet[n.Int64()]
	}
	return string(secret), nil
}

func truncateToDate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// NewRecord allocates the identity of a new survey. The returned secret is the
// plain access code, it is also stored on the record.
func NewRecord(name string, notes *string, now time.Time) (schema.Survey, string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return schema.Survey{}, "", schema.NewValidationError("name", "survey name must be specified")
	}

	secret, err := GenerateSecret()
	if err != nil {
		return schema.Survey{}, "", err
	}

	id := uuid.New()
	contractEnd := truncateToDate(now.UTC().Add(ContractWindow))
	deletionDue := contractEnd.Add(RetentionWindow)

	survey := schema.Survey{
		Id:              id,
		Name:            name,
		Namespace:       tenancy.NamespaceFor(id).String(),
		Status:          schema.SurveyActive,
		ContractEndDate: &contractEnd,
		DeletionDueDate: &deletionDue,
		AccessSecret:    secret,
		Notes:           notes,
		CreatedAt:       now.UTC(),
	}

	return survey, secret, nil
}

func NamespaceInUse(namespace string, db *gorm.DB) (bool, error) {
	var existing int64
	result := db.Model(&schema.Survey{}).Where("namespace = ?", namespace).Count(&existing)
	if result.Error != nil {
		slog.Error("sql error checking for namespace collision", "namespace", namespace, "error", result.Error)
		return false, schema.ErrDbAccessFailed
	}
	return existing != 0, nil
}

func Insert(survey *schema.Survey, txn *gorm.DB) error {
	inUse, err := NamespaceInUse(survey.Namespace, txn)
	if err != nil {
		return err
	}
	if inUse {
		return fmt.Errorf("%w: namespace %v is already assigned to another survey", ErrNamespaceInUse, survey.Namespace)
	}

	result := txn.Create(survey)
	if result.Error != nil {
		slog.Error("sql error creating survey", "survey_id", survey.Id, "error", result.Error)
		return schema.ErrDbAccessFailed
	}
	return nil
}

func Get(surveyId uuid.UUID, db *gorm.DB) (schema.Survey, error) {
	return schema.GetSurvey(surveyId, db)
}

func List(db *gorm.DB) ([]schema.Survey, error) {
	surveys := make([]schema.Survey, 0)

	result := db.Order("contract_end_date DESC").Order("name").Find(&surveys)
	if result.Error != nil {
		slog.Error("sql error listing surveys", "error", result.Error)
		return nil, schema.ErrDbAccessFailed
	}

	return surveys, nil
}

type Patch struct {
	Name   *string
	Notes  *string
	Status *string
}

func Update(surveyId uuid.UUID, patch Patch, db *gorm.DB) (schema.Survey, error) {
	updates := map[string]interface{}{}

	if patch.Name != nil {
		name := strings.TrimSpace(*patch.Name)
		if name == "" {
			return schema.Survey{}, schema.NewValidationError("name", "survey name cannot be empty")
		}
		updates["name"] = name
	}
	if patch.Notes != nil {
		updates["notes"] = *patch.Notes
	}
	if patch.Status != nil {
		if err := schema.CheckSurveyStatus(*patch.Status); err != nil {
			return schema.Survey{}, err
		}
		updates["status"] = *patch.Status
	}

	survey, err := schema.GetSurvey(surveyId, db)
	if err != nil {
		return survey, err
	}
	if len(updates) == 0 {
		return survey, nil
	}

	result := db.Model(&schema.Survey{}).Where("id = ?", surveyId).Updates(updates)
	if result.Error != nil {
		slog.Error("sql error updating survey", "survey_id", surveyId, "error", result.Error)
		return survey, schema.ErrDbAccessFailed
	}

	return schema.GetSurvey(surveyId, db)
}

func Delete(surveyId uuid.UUID, db *gorm.DB) error {
	result := db.Delete(&schema.Survey{}, "id = ?", surveyId)
	if result.Error != nil {
		slog.Error("sql error deleting survey", "survey_id", surveyId, "error", result.Error)
		return schema.ErrDbAccessFailed
	}
	if result.RowsAffected == 0 {
		return schema.ErrSurveyNotFound
	}
	return nil
}

// ResetSecret replaces the access code, the previous code stops working
// immediately.
func ResetSecret(surveyId uuid.UUID, db *gorm.DB) (string, error) {
	secret, err := GenerateSecret()
	if err != nil {
		return "", err
	}

	result := db.Model(&schema.Survey{}).Where("id = ?", surveyId).Update("access_secret", secret)
	if result.Error != nil {
		slog.Error("sql error resetting access code", "survey_id", surveyId, "error", result.Error)
		return "", schema.ErrDbAccessFailed
	}
	if result.RowsAffected == 0 {
		return "", schema.ErrSurveyNotFound
	}

	return secret, nil
}

func VerifySecret(surveyId uuid.UUID, secret string, db *gorm.DB) (schema.Survey, error) {
	survey, err := schema.GetSurvey(surveyId, db)
	if err != nil {
		return survey, err
	}

	provided := strings.TrimSpace(secret)
	stored := strings.TrimSpace(survey.AccessSecret)
	if provided == "" || stored == "" || subtle.ConstantTimeCompare([]byte(provided), []byte(stored)) != 1 {
		return survey, ErrInvalidSecret
	}

	return survey, nil
}

// Registry answers tenant lookups for the resolver. Lookups always go to the
// shared namespace and are never cached.
type Registry struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Registry {
	return &Registry{db: db}
}

func (r *Registry) LookupBinding(ctx context.Context, surveyId uuid.UUID) (tenancy.Binding, error) {
	var survey schema.Survey
	result := r.db.WithContext(ctx).Select("id", "namespace", "status").Take(&survey, "id = ?", surveyId)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return tenancy.Binding{}, schema.ErrSurveyNotFound
		}
		return tenancy.Binding{}, fmt.Errorf("error looking up survey %v: %w", surveyId, result.Error)
	}

	ns, err := tenancy.ParseNamespace(survey.Namespace)
	if err != nil {
		return tenancy.Binding{}, err
	}

	return tenancy.Binding{SurveyId: survey.Id, Namespace: ns, Status: survey.Status}, nil
}
