package tenancy

import (
	"fmt"
	"strings"

	"gorm.io/gorm"
)

// Dialect hides how a backing store isolates one namespace from another.
//
// Prepare and Release run outside of any transaction and make the namespace
// addressable on the connection (a no-op for stores with real schemas).
// Prepare reports whether this call attached the namespace; a caller must only
// Release what it attached itself. CreateNamespace and DropNamespace run
// inside the provisioning transaction.
type Dialect interface {
	Name() string

	Prepare(db *gorm.DB, ns Namespace) (bool, error)
	Release(db *gorm.DB, ns Namespace) error

	CreateNamespace(txn *gorm.DB, ns Namespace) error
	DropNamespace(txn *gorm.DB, ns Namespace) error
	TablesExist(txn *gorm.DB, ns Namespace) (bool, error)

	// EnsureUniqueVotes removes duplicate votes of one voter on one opinion,
	// keeping the earliest, and adds the unique vote index if it is missing.
	EnsureUniqueVotes(txn *gorm.DB, ns Namespace) error

	// Search narrows an opinions query to rows whose title or content match
	// the free text query.
	Search(query *gorm.DB, text string) *gorm.DB

	IsMissingRelation(err error) bool
}

func execAll(txn *gorm.DB, statements []string) error {
	for _, stmt := range statements {
		if err := txn.Exec(stmt).Error; err != nil {
			return fmt.Errorf("error executing '%v': %w", firstLine(stmt), err)
		}
	}
	return nil
}

func firstLine(stmt string) string {
	if idx := strings.IndexByte(stmt, '\n'); idx >= 0 {
		return strings.TrimSpace(stmt[:idx])
	}
	return stmt
}
