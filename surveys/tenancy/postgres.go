package tenancy

import (
	"errors"
	"fmt"
	"survey_engine/surveys/schema"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"gorm.io/gorm"
)

const (
	pgUndefinedTable  = "42P01"
	pgInvalidSchema   = "3F000"
	opinionFtsVector  = "to_tsvector('simple', coalesce(title, '') || ' ' || coalesce(content, ''))"
	uniqueVoteIndex   = "ux_upvotes_opinion_user"
	opinionFtsIndex   = "ix_published_opinions_fts"
	opinionOrderIndex = "ix_published_opinions_updated_at"
)

// Postgres isolates every tenant in its own schema.
type Postgres struct{}

func (Postgres) Name() string {
	return "postgres"
}

func (Postgres) Prepare(*gorm.DB, Namespace) (bool, error) {
	return false, nil
}

func (Postgres) Release(*gorm.DB, Namespace) error {
	return nil
}

func (Postgres) CreateStatements(ns Namespace) []string {
	t := ns.QuotedTable
	return []string{
		fmt.Sprintf("CREATE SCHEMA %v", ns.Quoted()),
		fmt.Sprintf(`CREATE TABLE %v (
	id SERIAL PRIMARY KEY,
	survey_id UUID NOT NULL,
	label VARCHAR(512) NOT NULL,
	question_type VARCHAR(20) NOT NULL CHECK (question_type IN ('text', 'textarea', 'select', 'radio')),
	options JSONB,
	is_required BOOLEAN NOT NULL DEFAULT FALSE,
	is_personal_data BOOLEAN NOT NULL DEFAULT FALSE
)`, t(schema.QuestionsTable)),
		fmt.Sprintf(`CREATE TABLE %v (
	id UUID PRIMARY KEY,
	submitted_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`, t(schema.RawResponsesTable)),
		fmt.Sprintf(`CREATE TABLE %v (
	id SERIAL PRIMARY KEY,
	response_id UUID NOT NULL REFERENCES %v (id) ON DELETE CASCADE,
	question_id INTEGER NOT NULL REFERENCES %v (id) ON DELETE CASCADE,
	answer_text TEXT NOT NULL,
	is_disclosure_agreed BOOLEAN NOT NULL DEFAULT FALSE
)`, t(schema.RawAnswersTable), t(schema.RawResponsesTable), t(schema.QuestionsTable)),
		fmt.Sprintf(`CREATE TABLE %v (
	id SERIAL PRIMARY KEY,
	raw_response_id UUID NOT NULL,
	title VARCHAR(512) NOT NULL,
	content TEXT NOT NULL,
	admin_notes TEXT,
	importance SMALLINT NOT NULL DEFAULT 0 CHECK (importance BETWEEN 0 AND 2),
	urgency SMALLINT NOT NULL DEFAULT 0 CHECK (urgency BETWEEN 0 AND 2),
	expected_impact SMALLINT NOT NULL DEFAULT 0 CHECK (expected_impact BETWEEN 0 AND 2),
	supporter_points SMALLINT NOT NULL DEFAULT 0 CHECK (supporter_points BETWEEN 0 AND 2),
	priority_score SMALLINT NOT NULL DEFAULT 0 CHECK (priority_score BETWEEN 0 AND 14),
	disclosed_pii JSONB,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`, t(schema.OpinionsTable)),
		fmt.Sprintf(`CREATE TABLE %v (
	id SERIAL PRIMARY KEY,
	opinion_id INTEGER NOT NULL REFERENCES %v (id) ON DELETE CASCADE,
	user_hash VARCHAR(64) NOT NULL,
	raw_comment TEXT,
	published_comment TEXT,
	status VARCHAR(20) NOT NULL DEFAULT 'pending' CHECK (status IN ('pending', 'published', 'rejected')),
	is_disclosure_agreed BOOLEAN NOT NULL DEFAULT FALSE,
	disclosed_pii JSONB,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`, t(schema.UpvotesTable), t(schema.OpinionsTable)),
		fmt.Sprintf("CREATE UNIQUE INDEX %v ON %v (opinion_id, user_hash)", pq.QuoteIdentifier(uniqueVoteIndex), t(schema.UpvotesTable)),
		fmt.Sprintf("CREATE INDEX %v ON %v (updated_at DESC, id)", pq.QuoteIdentifier(opinionOrderIndex), t(schema.OpinionsTable)),
		fmt.Sprintf("CREATE INDEX %v ON %v USING GIN (%v)", pq.QuoteIdentifier(opinionFtsIndex), t(schema.OpinionsTable), opinionFtsVector),
	}
}

func (p Postgres) CreateNamespace(txn *gorm.DB, ns Namespace) error {
	return execAll(txn, p.CreateStatements(ns))
}

func (Postgres) DropNamespace(txn *gorm.DB, ns Namespace) error {
	return execAll(txn, []string{fmt.Sprintf("DROP SCHEMA IF EXISTS %v CASCADE", ns.Quoted())})
}

func (Postgres) TablesExist(txn *gorm.DB, ns Namespace) (bool, error) {
	var count int64
	result := txn.Raw(
		"SELECT count(*) FROM information_schema.tables WHERE table_schema = ? AND table_name IN ?",
		ns.String(), schema.TenantTables,
	).Scan(&count)
	if result.Error != nil {
		return false, result.Error
	}
	return count == int64(len(schema.TenantTables)), nil
}

func (Postgres) EnsureUniqueVotes(txn *gorm.DB, ns Namespace) error {
	upvotes := ns.QuotedTable(schema.UpvotesTable)
	return execAll(txn, []string{
		fmt.Sprintf(`DELETE FROM %v a USING %v b
WHERE a.opinion_id = b.opinion_id AND a.user_hash = b.user_hash AND a.id > b.id`, upvotes, upvotes),
		fmt.Sprintf("CREATE UNIQUE INDEX IF NOT EXISTS %v ON %v (opinion_id, user_hash)", pq.QuoteIdentifier(uniqueVoteIndex), upvotes),
	})
}

func (Postgres) Search(query *gorm.DB, text string) *gorm.DB {
	return query.Where(opinionFtsVector+" @@ plainto_tsquery('simple', ?)", text)
}

func (Postgres) IsMissingRelation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUndefinedTable || pgErr.Code == pgInvalidSchema
	}
	return false
}
