package provisioning

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"survey_engine/surveys/registry"
	"survey_engine/surveys/schema"
	"survey_engine/surveys/tenancy"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func openRegistry(t *testing.T, dir string) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(filepath.Join(dir, "registry.db")+"?_foreign_keys=on"), &gorm.Config{})
	require.NoError(t, err)

	sqlDb, err := db.DB()
	require.NoError(t, err)
	sqlDb.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDb.Close() })

	require.NoError(t, db.AutoMigrate(&schema.Survey{}))
	return db
}

func setupService(t *testing.T) (*Service, *tenancy.Store, string) {
	dir := t.TempDir()
	store := tenancy.NewStore(openRegistry(t, dir), tenancy.Sqlite{Dir: dir})
	return NewService(store), store, dir
}

func TestProvision(t *testing.T) {
	service, store, dir := setupService(t)

	survey, secret, err := service.Provision(context.Background(), "Pulse", nil)
	require.NoError(t, err)
	assert.Len(t, secret, 8)

	stored, err := registry.Get(survey.Id, store.DB())
	require.NoError(t, err)
	assert.Equal(t, survey.Namespace, stored.Namespace)

	ns, err := tenancy.ParseNamespace(survey.Namespace)
	require.NoError(t, err)

	exists, err := store.Dialect().TablesExist(store.DB(), ns)
	require.NoError(t, err)
	assert.True(t, exists)

	_, err = os.Stat(filepath.Join(dir, ns.String()+".db"))
	require.NoError(t, err)

	_, _, err = service.Provision(context.Background(), "  ", nil)
	var verr schema.ValidationError
	assert.ErrorAs(t, err, &verr)
}

// fixedIds makes uuid generation return the same id until the test ends.
func fixedIds(t *testing.T, b byte) {
	uuid.SetRand(bytes.NewReader(bytes.Repeat([]byte{b}, 16)))
	t.Cleanup(func() { uuid.SetRand(nil) })
}

func TestProvisionNamespaceCollision(t *testing.T) {
	service, store, dir := setupService(t)

	fixedIds(t, 0xab)
	first, _, err := service.Provision(context.Background(), "first", nil)
	require.NoError(t, err)
	require.Equal(t, "survey_abababab", first.Namespace)

	ns, err := tenancy.ParseNamespace(first.Namespace)
	require.NoError(t, err)
	ctx := tenancy.WithBinding(context.Background(), tenancy.Binding{SurveyId: first.Id, Namespace: ns})
	require.NoError(t, store.InTenant(ctx, func(tx *tenancy.Tx) error {
		return tx.Table(schema.QuestionsTable).Create(&schema.Question{SurveyId: first.Id, Label: "Idea", QuestionType: schema.TextQuestion}).Error
	}))

	fixedIds(t, 0xab)
	_, _, err = service.Provision(context.Background(), "second", nil)
	assert.ErrorIs(t, err, ErrProvisioningFailed)
	assert.ErrorIs(t, err, registry.ErrNamespaceInUse)

	_, err = os.Stat(filepath.Join(dir, "survey_abababab.db"))
	require.NoError(t, err, "the existing survey keeps its database")

	exists, err := store.Dialect().TablesExist(store.DB(), ns)
	require.NoError(t, err)
	assert.True(t, exists)

	var questions []schema.Question
	require.NoError(t, store.InTenant(ctx, func(tx *tenancy.Tx) error {
		var err error
		questions, err = schema.ListQuestions(first.Id, tx)
		return err
	}))
	assert.Len(t, questions, 1)
}

func TestProvisionExistingStorage(t *testing.T) {
	service, store, dir := setupService(t)

	leftover := filepath.Join(dir, "survey_cdcdcdcd.db")
	require.NoError(t, os.WriteFile(leftover, []byte("keep"), 0644))

	fixedIds(t, 0xcd)
	_, _, err := service.Provision(context.Background(), "second", nil)
	assert.ErrorIs(t, err, registry.ErrNamespaceInUse)

	data, err := os.ReadFile(leftover)
	require.NoError(t, err)
	assert.Equal(t, "keep", string(data))

	surveys, err := registry.List(store.DB())
	require.NoError(t, err)
	assert.Empty(t, surveys)
}

func TestDeprovision(t *testing.T) {
	service, store, dir := setupService(t)

	survey, _, err := service.Provision(context.Background(), "Pulse", nil)
	require.NoError(t, err)
	other, _, err := service.Provision(context.Background(), "Other", nil)
	require.NoError(t, err)

	require.NoError(t, service.Deprovision(context.Background(), survey.Id))

	_, err = registry.Get(survey.Id, store.DB())
	assert.ErrorIs(t, err, schema.ErrSurveyNotFound)

	_, err = os.Stat(filepath.Join(dir, survey.Namespace+".db"))
	assert.True(t, os.IsNotExist(err))

	ns, err := tenancy.ParseNamespace(other.Namespace)
	require.NoError(t, err)
	exists, err := store.Dialect().TablesExist(store.DB(), ns)
	require.NoError(t, err)
	assert.True(t, exists, "other surveys are not affected")

	assert.ErrorIs(t, service.Deprovision(context.Background(), survey.Id), schema.ErrSurveyNotFound)
	assert.ErrorIs(t, service.Deprovision(context.Background(), uuid.New()), schema.ErrSurveyNotFound)
}

func TestReattach(t *testing.T) {
	dir := t.TempDir()

	var surveyId uuid.UUID
	var ns tenancy.Namespace
	{
		store := tenancy.NewStore(openRegistry(t, dir), tenancy.Sqlite{Dir: dir})
		survey, _, err := NewService(store).Provision(context.Background(), "Pulse", nil)
		require.NoError(t, err)
		surveyId = survey.Id
		ns, err = tenancy.ParseNamespace(survey.Namespace)
		require.NoError(t, err)

		require.NoError(t, store.InTenant(
			tenancy.WithBinding(context.Background(), tenancy.Binding{SurveyId: surveyId, Namespace: ns}),
			func(tx *tenancy.Tx) error {
				return tx.Table(schema.QuestionsTable).Create(&schema.Question{SurveyId: surveyId, Label: "Idea", QuestionType: schema.TextQuestion}).Error
			},
		))
	}

	// A fresh connection sees the namespace only after reattaching.
	store := tenancy.NewStore(openRegistry(t, dir), tenancy.Sqlite{Dir: dir})
	ctx := tenancy.WithBinding(context.Background(), tenancy.Binding{SurveyId: surveyId, Namespace: ns})

	err := store.InTenant(ctx, func(tx *tenancy.Tx) error {
		_, err := schema.ListQuestions(surveyId, tx)
		return err
	})
	assert.ErrorIs(t, err, tenancy.ErrNamespaceNotProvisioned)

	require.NoError(t, NewService(store).Reattach(context.Background()))

	var questions []schema.Question
	require.NoError(t, store.InTenant(ctx, func(tx *tenancy.Tx) error {
		var err error
		questions, err = schema.ListQuestions(surveyId, tx)
		return err
	}))
	require.Len(t, questions, 1)
	assert.Equal(t, "Idea", questions[0].Label)
}
