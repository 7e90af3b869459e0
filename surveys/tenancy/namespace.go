package tenancy

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

var (
	ErrInvalidNamespace        = errors.New("invalid namespace")
	ErrNamespaceNotProvisioned = errors.New("survey tables not found, create the survey via the admin api first")
)

const (
	namespacePrefix = "survey_"
	// postgres truncates identifiers past 63 bytes
	maxNamespaceLen = 63
)

var namespaceGrammar = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Namespace names the isolated set of tables owning one survey's data. A
// Namespace value is only ever constructed through ParseNamespace or
// NamespaceFor, so it is always safe to embed in DDL.
type Namespace string

func ParseNamespace(name string) (Namespace, error) {
	if len(name) == 0 || len(name) > maxNamespaceLen || !namespaceGrammar.MatchString(name) {
		return "", fmt.Errorf("%w: '%v'", ErrInvalidNamespace, name)
	}
	return Namespace(name), nil
}

// NamespaceFor derives the namespace of a survey from the first 8 hex
// characters of its id.
func NamespaceFor(surveyId uuid.UUID) Namespace {
	hex := strings.ReplaceAll(surveyId.String(), "-", "")
	return Namespace(namespacePrefix + hex[:8])
}

func (ns Namespace) String() string {
	return string(ns)
}

// Quoted returns the namespace as a quoted sql identifier.
func (ns Namespace) Quoted() string {
	return pq.QuoteIdentifier(string(ns))
}

// Qualify returns "<namespace>.<table>" in the form accepted by gorm's Table,
// which quotes each part.
func (ns Namespace) Qualify(table string) string {
	return string(ns) + "." + table
}

// QuotedTable returns the fully quoted table reference for raw statements.
func (ns Namespace) QuotedTable(table string) string {
	return ns.Quoted() + "." + pq.QuoteIdentifier(table)
}
