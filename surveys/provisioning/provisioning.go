package provisioning

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"survey_engine/surveys/registry"
	"survey_engine/surveys/schema"
	"survey_engine/surveys/tenancy"
	"survey_engine/utils/metrics"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

var (
	ErrProvisioningFailed   = errors.New("survey provisioning failed")
	ErrDeprovisioningFailed = errors.New("survey deletion failed")
)

type Service struct {
	store *tenancy.Store
}

func NewService(store *tenancy.Store) *Service {
	return &Service{store: store}
}

// Provision creates a survey together with its namespace. The namespace, its
// tables and the registry row are created in one transaction.
func (s *Service) Provision(ctx context.Context, name string, notes *string) (schema.Survey, string, error) {
	survey, secret, err := registry.NewRecord(name, notes, time.Now())
	if err != nil {
		return schema.Survey{}, "", err
	}

	ns, err := tenancy.ParseNamespace(survey.Namespace)
	if err != nil {
		return schema.Survey{}, "", err
	}

	db := s.store.DB().WithContext(ctx)
	dialect := s.store.Dialect()

	if err := s.checkUnused(db, ns); err != nil {
		slog.Error("refusing to provision namespace", "survey_id", survey.Id, "namespace", ns, "error", err)
		metrics.ProvisioningEvents.WithLabelValues("provision", "failed").Inc()
		return schema.Survey{}, "", fmt.Errorf("%w: %w", ErrProvisioningFailed, err)
	}

	attached, err := dialect.Prepare(db, ns)
	if err != nil {
		slog.Error("error preparing namespace", "namespace", ns, "error", err)
		metrics.ProvisioningEvents.WithLabelValues("provision", "failed").Inc()
		return schema.Survey{}, "", fmt.Errorf("%w: %v", ErrProvisioningFailed, err)
	}

	err = db.Transaction(func(txn *gorm.DB) error {
		if err := dialect.CreateNamespace(txn, ns); err != nil {
			return err
		}
		return registry.Insert(&survey, txn)
	})
	if err != nil {
		slog.Error("error provisioning survey", "survey_id", survey.Id, "namespace", ns, "error", err)
		if attached {
			if releaseErr := dialect.Release(db, ns); releaseErr != nil {
				slog.Error("error releasing namespace after failed provisioning", "namespace", ns, "error", releaseErr)
			}
		}
		metrics.ProvisioningEvents.WithLabelValues("provision", "failed").Inc()
		return schema.Survey{}, "", fmt.Errorf("%w: %v", ErrProvisioningFailed, err)
	}

	metrics.ProvisioningEvents.WithLabelValues("provision", "ok").Inc()
	slog.Info("provisioned survey", "survey_id", survey.Id, "namespace", ns, "dialect", dialect.Name())

	return survey, secret, nil
}

// checkUnused refuses a namespace that is registered to another survey or
// whose storage already exists.
func (s *Service) checkUnused(db *gorm.DB, ns tenancy.Namespace) error {
	inUse, err := registry.NamespaceInUse(ns.String(), db)
	if err != nil {
		return err
	}
	if inUse {
		return fmt.Errorf("%w: %v", registry.ErrNamespaceInUse, ns)
	}

	if sqlite, ok := s.store.Dialect().(tenancy.Sqlite); ok {
		exists, err := sqlite.Exists(db, ns)
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("%w: storage of %v already exists", registry.ErrNamespaceInUse, ns)
		}
	}
	return nil
}

// Deprovision drops the namespace of a survey and removes its record. If the
// namespace cannot be released afterwards the survey is still reported as
// deleted, the leftover attachment is only logged.
func (s *Service) Deprovision(ctx context.Context, surveyId uuid.UUID) error {
	db := s.store.DB().WithContext(ctx)
	dialect := s.store.Dialect()

	var ns tenancy.Namespace
	err := db.Transaction(func(txn *gorm.DB) error {
		survey, err := schema.GetSurvey(surveyId, txn)
		if err != nil {
			return err
		}

		ns, err = tenancy.ParseNamespace(survey.Namespace)
		if err != nil {
			return err
		}

		if err := dialect.DropNamespace(txn, ns); err != nil {
			return err
		}

		return registry.Delete(surveyId, txn)
	})
	if err != nil {
		if errors.Is(err, schema.ErrSurveyNotFound) {
			return err
		}
		slog.Error("error deleting survey", "survey_id", surveyId, "error", err)
		metrics.ProvisioningEvents.WithLabelValues("deprovision", "failed").Inc()
		return fmt.Errorf("%w: %v", ErrDeprovisioningFailed, err)
	}

	if err := dialect.Release(db, ns); err != nil {
		slog.Warn("namespace dropped but could not be released", "survey_id", surveyId, "namespace", ns, "error", err)
	}

	metrics.ProvisioningEvents.WithLabelValues("deprovision", "ok").Inc()
	slog.Info("deleted survey", "survey_id", surveyId, "namespace", ns)

	return nil
}

// Reattach makes every registered namespace addressable again after a
// restart and reports namespaces whose tables are missing.
func (s *Service) Reattach(ctx context.Context) error {
	db := s.store.DB().WithContext(ctx)
	dialect := s.store.Dialect()

	surveys, err := registry.List(db)
	if err != nil {
		return err
	}

	for _, survey := range surveys {
		ns, err := tenancy.ParseNamespace(survey.Namespace)
		if err != nil {
			slog.Error("registry contains invalid namespace", "survey_id", survey.Id, "namespace", survey.Namespace)
			continue
		}

		if _, err := dialect.Prepare(db, ns); err != nil {
			return fmt.Errorf("error reattaching namespace %v: %w", ns, err)
		}

		exists, err := dialect.TablesExist(db, ns)
		if err != nil {
			return fmt.Errorf("error checking tables of namespace %v: %w", ns, err)
		}
		if !exists {
			slog.Warn("survey namespace is not provisioned", "survey_id", survey.Id, "namespace", ns)
		}
	}

	slog.Info("reattached survey namespaces", "count", len(surveys), "dialect", dialect.Name())
	return nil
}
