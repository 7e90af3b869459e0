package tenancy

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"survey_engine/surveys/schema"

	"github.com/lib/pq"
	"gorm.io/gorm"
)

// Sqlite isolates every tenant in its own attached database. Attachments are
// per connection, so the pool must be limited to a single connection.
//
// When Dir is empty each namespace is attached as a private in-memory
// database, otherwise as <Dir>/<namespace>.db.
type Sqlite struct {
	Dir string
}

func (Sqlite) Name() string {
	return "sqlite"
}

func (s Sqlite) file(ns Namespace) string {
	if s.Dir == "" {
		return ":memory:"
	}
	return filepath.Join(s.Dir, ns.String()+".db")
}

func (s Sqlite) attached(db *gorm.DB) (map[string]bool, error) {
	type databaseRow struct {
		Seq  int
		Name string
		File string
	}
	var rows []databaseRow
	if err := db.Raw("PRAGMA database_list").Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("error listing attached databases: %w", err)
	}

	names := make(map[string]bool, len(rows))
	for _, row := range rows {
		names[row.Name] = true
	}
	return names, nil
}

func (s Sqlite) Prepare(db *gorm.DB, ns Namespace) (bool, error) {
	attached, err := s.attached(db)
	if err != nil {
		return false, err
	}
	if attached[ns.String()] {
		return false, nil
	}

	if err := db.Exec("ATTACH DATABASE ? AS "+ns.Quoted(), s.file(ns)).Error; err != nil {
		return false, fmt.Errorf("error attaching namespace %v: %w", ns, err)
	}
	slog.Info("attached sqlite namespace", "namespace", ns, "file", s.file(ns))
	return true, nil
}

// Exists reports whether the namespace is already attached or its database
// file is already on disk.
func (s Sqlite) Exists(db *gorm.DB, ns Namespace) (bool, error) {
	attached, err := s.attached(db)
	if err != nil {
		return false, err
	}
	if attached[ns.String()] {
		return true, nil
	}
	if s.Dir == "" {
		return false, nil
	}
	if _, err := os.Stat(s.file(ns)); err == nil {
		return true, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return false, fmt.Errorf("error checking namespace file: %w", err)
	}
	return false, nil
}

func (s Sqlite) Release(db *gorm.DB, ns Namespace) error {
	attached, err := s.attached(db)
	if err != nil {
		return err
	}
	if attached[ns.String()] {
		if err := db.Exec("DETACH DATABASE " + ns.Quoted()).Error; err != nil {
			return fmt.Errorf("error detaching namespace %v: %w", ns, err)
		}
	}

	if s.Dir != "" {
		if err := os.Remove(s.file(ns)); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("error removing namespace file: %w", err)
		}
	}
	return nil
}

// CreateStatements returns the table set of one namespace. Foreign keys name
// their parent unqualified since sqlite resolves them in the child's database.
func (Sqlite) CreateStatements(ns Namespace) []string {
	t := ns.QuotedTable
	q := pq.QuoteIdentifier
	return []string{
		fmt.Sprintf(`CREATE TABLE %v (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	survey_id TEXT NOT NULL,
	label VARCHAR(512) NOT NULL,
	question_type VARCHAR(20) NOT NULL CHECK (question_type IN ('text', 'textarea', 'select', 'radio')),
	options TEXT,
	is_required BOOLEAN NOT NULL DEFAULT 0,
	is_personal_data BOOLEAN NOT NULL DEFAULT 0
)`, t(schema.QuestionsTable)),
		fmt.Sprintf(`CREATE TABLE %v (
	id TEXT PRIMARY KEY,
	submitted_at TIMESTAMP NOT NULL
)`, t(schema.RawResponsesTable)),
		fmt.Sprintf(`CREATE TABLE %v (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	response_id TEXT NOT NULL REFERENCES %v (id) ON DELETE CASCADE,
	question_id INTEGER NOT NULL REFERENCES %v (id) ON DELETE CASCADE,
	answer_text TEXT NOT NULL,
	is_disclosure_agreed BOOLEAN NOT NULL DEFAULT 0
)`, t(schema.RawAnswersTable), q(schema.RawResponsesTable), q(schema.QuestionsTable)),
		fmt.Sprintf(`CREATE TABLE %v (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	raw_response_id TEXT NOT NULL,
	title VARCHAR(512) NOT NULL,
	content TEXT NOT NULL,
	admin_notes TEXT,
	importance INTEGER NOT NULL DEFAULT 0 CHECK (importance BETWEEN 0 AND 2),
	urgency INTEGER NOT NULL DEFAULT 0 CHECK (urgency BETWEEN 0 AND 2),
	expected_impact INTEGER NOT NULL DEFAULT 0 CHECK (expected_impact BETWEEN 0 AND 2),
	supporter_points INTEGER NOT NULL DEFAULT 0 CHECK (supporter_points BETWEEN 0 AND 2),
	priority_score INTEGER NOT NULL DEFAULT 0 CHECK (priority_score BETWEEN 0 AND 14),
	disclosed_pii TEXT,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
)`, t(schema.OpinionsTable)),
		fmt.Sprintf(`CREATE TABLE %v (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	opinion_id INTEGER NOT NULL REFERENCES %v (id) ON DELETE CASCADE,
	user_hash VARCHAR(64) NOT NULL,
	raw_comment TEXT,
	published_comment TEXT,
	status VARCHAR(20) NOT NULL DEFAULT 'pending' CHECK (status IN ('pending', 'published', 'rejected')),
	is_disclosure_agreed BOOLEAN NOT NULL DEFAULT 0,
	disclosed_pii TEXT,
	created_at TIMESTAMP NOT NULL
)`, t(schema.UpvotesTable), q(schema.OpinionsTable)),
		fmt.Sprintf("CREATE UNIQUE INDEX %v ON %v (opinion_id, user_hash)", t(uniqueVoteIndex), q(schema.UpvotesTable)),
		fmt.Sprintf("CREATE INDEX %v ON %v (updated_at DESC, id)", t(opinionOrderIndex), q(schema.OpinionsTable)),
	}
}

func (s Sqlite) CreateNamespace(txn *gorm.DB, ns Namespace) error {
	return execAll(txn, s.CreateStatements(ns))
}

// DropNamespace drops the tables, the attached database itself can only be
// detached outside of a transaction, see Release.
func (Sqlite) DropNamespace(txn *gorm.DB, ns Namespace) error {
	statements := make([]string, 0, len(schema.TenantTables))
	for i := len(schema.TenantTables) - 1; i >= 0; i-- {
		statements = append(statements, "DROP TABLE IF EXISTS "+ns.QuotedTable(schema.TenantTables[i]))
	}
	return execAll(txn, statements)
}

func (s Sqlite) TablesExist(txn *gorm.DB, ns Namespace) (bool, error) {
	var count int64
	result := txn.Raw(
		fmt.Sprintf("SELECT count(*) FROM %v WHERE type = 'table' AND name IN ?", ns.QuotedTable("sqlite_master")),
		schema.TenantTables,
	).Scan(&count)
	if result.Error != nil {
		if s.IsMissingRelation(result.Error) {
			return false, nil
		}
		return false, result.Error
	}
	return count == int64(len(schema.TenantTables)), nil
}

func (Sqlite) EnsureUniqueVotes(txn *gorm.DB, ns Namespace) error {
	upvotes := ns.QuotedTable(schema.UpvotesTable)
	return execAll(txn, []string{
		fmt.Sprintf(`DELETE FROM %v
WHERE id NOT IN (SELECT min(id) FROM %v GROUP BY opinion_id, user_hash)`, upvotes, upvotes),
		fmt.Sprintf("CREATE UNIQUE INDEX IF NOT EXISTS %v ON %v (opinion_id, user_hash)",
			ns.QuotedTable(uniqueVoteIndex), pq.QuoteIdentifier(schema.UpvotesTable)),
	})
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// Search requires every word of the query to appear in the title or content,
// the closest match to plainto_tsquery without a text search extension.
func (Sqlite) Search(query *gorm.DB, text string) *gorm.DB {
	for _, word := range strings.Fields(text) {
		pattern := "%" + likeEscaper.Replace(strings.ToLower(word)) + "%"
		query = query.Where(`(lower(title) LIKE ? ESCAPE '\' OR lower(content) LIKE ? ESCAPE '\')`, pattern, pattern)
	}
	return query
}

func (Sqlite) IsMissingRelation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "no such table") || strings.Contains(msg, "unknown database")
}
