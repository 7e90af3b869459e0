package tenancy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"survey_engine/surveys/schema"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Binding is the tenant a request was resolved to.
type Binding struct {
	SurveyId  uuid.UUID
	Namespace Namespace
	Status    string
}

type contextKey string

const bindingKey contextKey = "tenant_binding"

func WithBinding(ctx context.Context, binding Binding) context.Context {
	return context.WithValue(ctx, bindingKey, binding)
}

func FromContext(ctx context.Context) (Binding, bool) {
	binding, ok := ctx.Value(bindingKey).(Binding)
	return binding, ok
}

// Require returns the binding of the request, a request that was not
// resolved to any survey is reported as an unknown survey.
func Require(ctx context.Context) (Binding, error) {
	binding, ok := FromContext(ctx)
	if !ok {
		return Binding{}, schema.ErrSurveyNotFound
	}
	return binding, nil
}

// Store hands out transactions bound to the namespace of the current request.
type Store struct {
	db      *gorm.DB
	dialect Dialect
}

func NewStore(db *gorm.DB, dialect Dialect) *Store {
	return &Store{db: db, dialect: dialect}
}

// DB is the shared namespace, it holds the survey registry.
func (s *Store) DB() *gorm.DB {
	return s.db
}

func (s *Store) Dialect() Dialect {
	return s.dialect
}

// InTenant runs fn in a single transaction bound to the namespace resolved
// for ctx. The transaction is rolled back if fn returns an error or panics.
func (s *Store) InTenant(ctx context.Context, fn func(tx *Tx) error) error {
	binding, err := Require(ctx)
	if err != nil {
		return err
	}

	err = s.db.WithContext(ctx).Transaction(func(txn *gorm.DB) error {
		return fn(&Tx{txn: txn, binding: binding, dialect: s.dialect})
	})
	return s.classify(binding.Namespace, err)
}

func (s *Store) classify(ns Namespace, err error) error {
	if err == nil || errors.Is(err, ErrNamespaceNotProvisioned) {
		return err
	}
	if s.dialect.IsMissingRelation(err) {
		slog.Error("tenant tables missing", "namespace", ns, "error", err)
		return fmt.Errorf("%w: namespace %v", ErrNamespaceNotProvisioned, ns)
	}
	return err
}

// Tx is one request's view of the data. Every tenant table is addressed
// through Table, which always qualifies it with the bound namespace.
type Tx struct {
	txn     *gorm.DB
	binding Binding
	dialect Dialect
}

func (t *Tx) Table(name string) *gorm.DB {
	return t.txn.Table(t.binding.Namespace.Qualify(name))
}

// Shared gives access to the shared namespace within the same transaction.
func (t *Tx) Shared() *gorm.DB {
	return t.txn
}

func (t *Tx) Binding() Binding {
	return t.binding
}

func (t *Tx) Search(query *gorm.DB, text string) *gorm.DB {
	return t.dialect.Search(query, text)
}
