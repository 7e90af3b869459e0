package tests

import (
	"bytes"
	"survey_engine/surveys/auth"
	"survey_engine/surveys/schema"
	"survey_engine/surveys/services"
	"survey_engine/surveys/tenancy"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type testEnv struct {
	engine services.SurveyEngine
	api    chi.Router
	store  *tenancy.Store
	db     *gorm.DB
	audit  *bytes.Buffer
}

const (
	testAdminKey  = "test-admin-key"
	testJwtSecret = "9f2kx03mc8akq1"
)

func setupTestEnv(t *testing.T) *testEnv {
	return setupTestEnvWithLimit(t, 1000)
}

func setupTestEnvWithLimit(t *testing.T, rateLimitPerMinute int) *testEnv {
	db, err := gorm.Open(sqlite.Open("file::memory:?_foreign_keys=on"), &gorm.Config{
		TranslateError: true,
		NowFunc:        func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		t.Fatal(err)
	}

	sqlDb, err := db.DB()
	if err != nil {
		t.Fatal(err)
	}
	sqlDb.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDb.Close() })

	if err := db.AutoMigrate(&schema.Survey{}); err != nil {
		t.Fatal(err)
	}

	adminKey, err := auth.NewAdminKey(testAdminKey)
	if err != nil {
		t.Fatal(err)
	}

	store := tenancy.NewStore(db, tenancy.Sqlite{})
	audit := new(bytes.Buffer)

	engine := services.NewSurveyEngine(
		store,
		adminKey,
		auth.NewJwtManager([]byte(testJwtSecret), time.Hour),
		auth.NewAuditLogger(audit),
		services.Options{Debug: true, RateLimitPerMinute: rateLimitPerMinute},
	)

	return &testEnv{engine: engine, api: engine.Routes(), store: store, db: db, audit: audit}
}

func (t *testEnv) newClient() *client {
	return &client{api: t.api, userAgent: "survey-tests/1.0"}
}

func (t *testEnv) adminClient() *client {
	c := t.newClient()
	c.adminKey = testAdminKey
	return c
}

// visitor is a public contributor, distinct user agents give distinct voter
// fingerprints.
func (t *testEnv) visitor(userAgent string) *client {
	c := t.newClient()
	c.userAgent = userAgent
	return c
}

func (t *testEnv) managerClient(surveyId, accessCode string) (*client, error) {
	c := t.newClient()
	err := c.managerLogin(surveyId, accessCode)
	return c, err
}
