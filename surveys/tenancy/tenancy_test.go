package tenancy

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"regexp"
	"survey_engine/surveys/schema"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func TestParseNamespace(t *testing.T) {
	valid := []string{"survey_abc123", "_private", "Survey_ABC"}
	for _, name := range valid {
		ns, err := ParseNamespace(name)
		require.NoError(t, err, name)
		assert.Equal(t, name, ns.String())
	}

	invalid := []string{"", "1abc", "a;DROP TABLE surveys", "survey-abc", "survey abc", `sur"vey`, string(make([]byte, 64))}
	for _, name := range invalid {
		_, err := ParseNamespace(name)
		assert.ErrorIs(t, err, ErrInvalidNamespace, name)
	}
}

func TestNamespaceFor(t *testing.T) {
	id := uuid.MustParse("3f2a9c1e-0b4d-4e6f-8a1b-2c3d4e5f6a7b")
	ns := NamespaceFor(id)
	assert.Equal(t, Namespace("survey_3f2a9c1e"), ns)

	_, err := ParseNamespace(ns.String())
	require.NoError(t, err)

	assert.Equal(t, `"survey_3f2a9c1e"`, ns.Quoted())
	assert.Equal(t, `"survey_3f2a9c1e"."upvotes"`, ns.QuotedTable("upvotes"))
	assert.Equal(t, "survey_3f2a9c1e.upvotes", ns.Qualify("upvotes"))
}

type fakeLookup map[uuid.UUID]Binding

func (f fakeLookup) LookupBinding(ctx context.Context, surveyId uuid.UUID) (Binding, error) {
	if binding, ok := f[surveyId]; ok {
		return binding, nil
	}
	return Binding{}, schema.ErrSurveyNotFound
}

func resolve(t *testing.T, res *Resolver, path string, header string) (Binding, bool) {
	var binding Binding
	var bound bool
	h := res.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		binding, bound = FromContext(r.Context())
	}))

	req := httptest.NewRequest("GET", path, nil)
	if header != "" {
		req.Header.Set(SurveyHeader, header)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	return binding, bound
}

func TestResolver(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	lookup := fakeLookup{
		a: {SurveyId: a, Namespace: NamespaceFor(a), Status: schema.SurveyActive},
		b: {SurveyId: b, Namespace: NamespaceFor(b), Status: schema.SurveySuspended},
	}
	res := NewResolver(lookup, "")

	binding, ok := resolve(t, res, fmt.Sprintf("/survey/%v/questions", a), "")
	require.True(t, ok)
	assert.Equal(t, a, binding.SurveyId)
	assert.Equal(t, NamespaceFor(a), binding.Namespace)

	binding, ok = resolve(t, res, fmt.Sprintf("/manager/%v", b), "")
	require.True(t, ok)
	assert.Equal(t, schema.SurveySuspended, binding.Status)

	binding, ok = resolve(t, res, fmt.Sprintf("/admin/surveys/%v/opinions", a), "")
	require.True(t, ok)
	assert.Equal(t, a, binding.SurveyId)

	// header wins over the path
	binding, ok = resolve(t, res, fmt.Sprintf("/survey/%v/questions", a), b.String())
	require.True(t, ok)
	assert.Equal(t, b, binding.SurveyId)

	// malformed header falls back to the path
	binding, ok = resolve(t, res, fmt.Sprintf("/survey/%v/questions", a), "garbage")
	require.True(t, ok)
	assert.Equal(t, a, binding.SurveyId)

	_, ok = resolve(t, res, fmt.Sprintf("/survey/%v/questions", uuid.New()), "")
	assert.False(t, ok)

	_, ok = resolve(t, res, fmt.Sprintf("/survey/%v", a), uuid.NewString())
	assert.False(t, ok)

	_, ok = resolve(t, res, "/health", "")
	assert.False(t, ok)

	_, ok = resolve(t, res, fmt.Sprintf("/other/%v", a), "")
	assert.False(t, ok)

	prefixed := NewResolver(lookup, "/api/")
	binding, ok = resolve(t, prefixed, fmt.Sprintf("/api/survey/%v/opinions", a), "")
	require.True(t, ok)
	assert.Equal(t, a, binding.SurveyId)
}

func TestRequireBinding(t *testing.T) {
	_, err := Require(context.Background())
	assert.ErrorIs(t, err, schema.ErrSurveyNotFound)

	id := uuid.New()
	ctx := WithBinding(context.Background(), Binding{SurveyId: id, Namespace: NamespaceFor(id)})
	binding, err := Require(ctx)
	require.NoError(t, err)
	assert.Equal(t, id, binding.SurveyId)
}

func mockPostgres(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	sqlDb, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDb.Close() })

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDb}), &gorm.Config{})
	require.NoError(t, err)

	return db, mock
}

func TestPostgresCreateNamespace(t *testing.T) {
	db, mock := mockPostgres(t)
	ns := Namespace("survey_0a1b2c3d")

	statements := Postgres{}.CreateStatements(ns)
	require.Len(t, statements, 9)
	assert.Equal(t, `CREATE SCHEMA "survey_0a1b2c3d"`, statements[0])

	for _, stmt := range statements {
		mock.ExpectExec(regexp.QuoteMeta(stmt)).WillReturnResult(sqlmock.NewResult(0, 0))
	}

	require.NoError(t, Postgres{}.CreateNamespace(db, ns))
	require.NoError(t, mock.ExpectationsWereMet())

	assert.Contains(t, statements[8], "USING GIN")

	for _, stmt := range statements[1:6] {
		assert.Contains(t, stmt, `"survey_0a1b2c3d".`)
	}
}

func TestPostgresCreateNamespaceFailure(t *testing.T) {
	db, mock := mockPostgres(t)
	ns := Namespace("survey_0a1b2c3d")

	mock.ExpectExec(`CREATE SCHEMA "survey_0a1b2c3d"`).
		WillReturnError(&pgconn.PgError{Code: "42P06", Message: "schema already exists"})

	err := Postgres{}.CreateNamespace(db, ns)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CREATE SCHEMA")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresDropNamespace(t *testing.T) {
	db, mock := mockPostgres(t)

	mock.ExpectExec(regexp.QuoteMeta(`DROP SCHEMA IF EXISTS "survey_0a1b2c3d" CASCADE`)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, Postgres{}.DropNamespace(db, Namespace("survey_0a1b2c3d")))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresTablesExist(t *testing.T) {
	db, mock := mockPostgres(t)
	ns := Namespace("survey_0a1b2c3d")

	mock.ExpectQuery(`SELECT count\(\*\) FROM information_schema.tables`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(len(schema.TenantTables)))
	mock.ExpectQuery(`SELECT count\(\*\) FROM information_schema.tables`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))

	exists, err := Postgres{}.TablesExist(db, ns)
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = Postgres{}.TablesExist(db, ns)
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresIsMissingRelation(t *testing.T) {
	p := Postgres{}
	assert.True(t, p.IsMissingRelation(&pgconn.PgError{Code: "42P01"}))
	assert.True(t, p.IsMissingRelation(fmt.Errorf("wrapped: %w", &pgconn.PgError{Code: "3F000"})))
	assert.False(t, p.IsMissingRelation(&pgconn.PgError{Code: "23505"}))
	assert.False(t, p.IsMissingRelation(errors.New("no such table: upvotes")))
}

func openSqlite(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open("file::memory:?_foreign_keys=on"), &gorm.Config{TranslateError: true})
	require.NoError(t, err)

	sqlDb, err := db.DB()
	require.NoError(t, err)
	sqlDb.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDb.Close() })

	return db
}

func sqliteStore(t *testing.T) (*Store, Namespace) {
	db := openSqlite(t)
	dialect := Sqlite{Dir: t.TempDir()}
	ns := NamespaceFor(uuid.New())

	attached, err := dialect.Prepare(db, ns)
	require.NoError(t, err)
	require.True(t, attached)
	require.NoError(t, db.Transaction(func(txn *gorm.DB) error {
		return dialect.CreateNamespace(txn, ns)
	}))

	return NewStore(db, dialect), ns
}

func TestSqliteNamespaceLifecycle(t *testing.T) {
	store, ns := sqliteStore(t)
	db, dialect := store.DB(), store.Dialect()

	// preparing twice is a no-op
	attached, err := dialect.Prepare(db, ns)
	require.NoError(t, err)
	assert.False(t, attached)

	inUse, err := store.Dialect().(Sqlite).Exists(db, ns)
	require.NoError(t, err)
	assert.True(t, inUse)

	exists, err := dialect.TablesExist(db, ns)
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, db.Transaction(func(txn *gorm.DB) error {
		return dialect.DropNamespace(txn, ns)
	}))

	exists, err = dialect.TablesExist(db, ns)
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, dialect.Release(db, ns))

	exists, err = dialect.TablesExist(db, ns)
	require.NoError(t, err)
	assert.False(t, exists)
}

func bindingFor(ns Namespace) context.Context {
	return WithBinding(context.Background(), Binding{SurveyId: uuid.New(), Namespace: ns, Status: schema.SurveyActive})
}

func TestInTenant(t *testing.T) {
	store, ns := sqliteStore(t)
	ctx := bindingFor(ns)

	err := store.InTenant(ctx, func(tx *Tx) error {
		return tx.Table(schema.RawResponsesTable).Create(&schema.RawResponse{Id: uuid.New()}).Error
	})
	require.NoError(t, err)

	errAbort := errors.New("abort")
	err = store.InTenant(ctx, func(tx *Tx) error {
		if err := tx.Table(schema.RawResponsesTable).Create(&schema.RawResponse{Id: uuid.New()}).Error; err != nil {
			return err
		}
		return errAbort
	})
	assert.ErrorIs(t, err, errAbort)

	var count int64
	require.NoError(t, store.InTenant(ctx, func(tx *Tx) error {
		return tx.Table(schema.RawResponsesTable).Count(&count).Error
	}))
	assert.Equal(t, int64(1), count, "failed transaction should be rolled back")

	err = store.InTenant(context.Background(), func(tx *Tx) error { return nil })
	assert.ErrorIs(t, err, schema.ErrSurveyNotFound)
}

func TestInTenantMissingTables(t *testing.T) {
	store, ns := sqliteStore(t)
	require.NoError(t, store.Dialect().DropNamespace(store.DB(), ns))

	err := store.InTenant(bindingFor(ns), func(tx *Tx) error {
		var questions []schema.Question
		return tx.Table(schema.QuestionsTable).Find(&questions).Error
	})
	assert.ErrorIs(t, err, ErrNamespaceNotProvisioned)

	// a namespace that was never attached
	err = store.InTenant(bindingFor(NamespaceFor(uuid.New())), func(tx *Tx) error {
		var questions []schema.Question
		return tx.Table(schema.QuestionsTable).Find(&questions).Error
	})
	assert.ErrorIs(t, err, ErrNamespaceNotProvisioned)
}

func TestSqliteUniqueVotes(t *testing.T) {
	store, ns := sqliteStore(t)
	ctx := bindingFor(ns)

	err := store.InTenant(ctx, func(tx *Tx) error {
		opinion := schema.PublishedOpinion{RawResponseId: uuid.New(), Title: "t", Content: "c"}
		if err := tx.Table(schema.OpinionsTable).Create(&opinion).Error; err != nil {
			return err
		}
		if err := tx.Table(schema.UpvotesTable).Create(&schema.Upvote{OpinionId: opinion.Id, UserHash: "abc", Status: schema.UpvotePublished}).Error; err != nil {
			return err
		}
		return tx.Table(schema.UpvotesTable).Create(&schema.Upvote{OpinionId: opinion.Id, UserHash: "abc", Status: schema.UpvotePublished}).Error
	})
	assert.ErrorIs(t, err, gorm.ErrDuplicatedKey)

	// the index may be ensured again on an existing namespace
	require.NoError(t, store.DB().Transaction(func(txn *gorm.DB) error {
		return store.Dialect().EnsureUniqueVotes(txn, ns)
	}))
}

func TestSqliteSearch(t *testing.T) {
	store, ns := sqliteStore(t)
	ctx := bindingFor(ns)

	opinions := []schema.PublishedOpinion{
		{RawResponseId: uuid.New(), Title: "More parking", Content: "The lot is full"},
		{RawResponseId: uuid.New(), Title: "Cafeteria", Content: "Open earlier, parking is fine"},
		{RawResponseId: uuid.New(), Title: "100% remote", Content: "Fridays"},
	}

	search := func(text string) []string {
		var titles []string
		require.NoError(t, store.InTenant(ctx, func(tx *Tx) error {
			return tx.Search(tx.Table(schema.OpinionsTable), text).Order("id").Pluck("title", &titles).Error
		}))
		return titles
	}

	require.NoError(t, store.InTenant(ctx, func(tx *Tx) error {
		return tx.Table(schema.OpinionsTable).Create(&opinions).Error
	}))

	assert.Equal(t, []string{"More parking", "Cafeteria"}, search("PARKING"))
	assert.Equal(t, []string{"More parking"}, search("parking lot"))
	assert.Equal(t, []string{"100% remote"}, search("100%"))
	assert.Empty(t, search("helicopter"))
}

func TestSqliteIsMissingRelation(t *testing.T) {
	s := Sqlite{}
	assert.True(t, s.IsMissingRelation(errors.New("no such table: survey_ab.upvotes")))
	assert.True(t, s.IsMissingRelation(errors.New("unknown database survey_ab")))
	assert.False(t, s.IsMissingRelation(errors.New("UNIQUE constraint failed")))
	assert.False(t, s.IsMissingRelation(nil))
}
