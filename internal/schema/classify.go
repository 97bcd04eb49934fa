package schema

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

// DriftKind classifies a database error as schema drift or not.
type DriftKind int

const (
	NoDrift DriftKind = iota
	MissingColumn
	TypeMismatch
)

func (k DriftKind) String() string {
	switch k {
	case MissingColumn:
		return "missing_column"
	case TypeMismatch:
		return "type_mismatch"
	default:
		return "none"
	}
}

// SQLSTATE codes that indicate drift between the models and the live schema.
const (
	codeUndefinedColumn           = "42703"
	codeInvalidTextRepresentation = "22P02"
	codeDatatypeMismatch          = "42804"
	codeUndefinedFunction         = "42883"
)

// SQLState extracts the SQLSTATE from lib/pq and pgx errors, or "" when the
// error carries none.
func SQLState(err error) string {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

// ClassifyDrift inspects err. Errors carrying a SQLSTATE are classified by code
// only; message text is consulted for uncoded errors and for the operator
// mismatch case, whose code is shared with unrelated failures.
func ClassifyDrift(err error) DriftKind {
	if err == nil {
		return NoDrift
	}
	switch SQLState(err) {
	case codeUndefinedColumn:
		return MissingColumn
	case codeInvalidTextRepresentation, codeDatatypeMismatch:
		return TypeMismatch
	case codeUndefinedFunction:
		if isOperatorConflict(errorText(err)) {
			return TypeMismatch
		}
		return NoDrift
	case "":
		return classifyByMessage(errorText(err))
	default:
		return NoDrift
	}
}

// classifyByMessage is the text heuristic for errors that lost their driver
// type (wrapped strings, foreign drivers).
func classifyByMessage(msg string) DriftKind {
	switch {
	case strings.Contains(msg, "column") && strings.Contains(msg, "does not exist"):
		return MissingColumn
	case strings.Contains(msg, "invalid input syntax for type"):
		return TypeMismatch
	case strings.Contains(msg, "is of type") && strings.Contains(msg, "but expression is of type"):
		return TypeMismatch
	case isOperatorConflict(msg):
		return TypeMismatch
	default:
		return NoDrift
	}
}

func isOperatorConflict(msg string) bool {
	if !strings.Contains(msg, "operator does not exist") {
		return false
	}
	return strings.Contains(msg, "uuid") &&
		(strings.Contains(msg, "integer") || strings.Contains(msg, "bigint") || strings.Contains(msg, "text"))
}

// errorText is the lowercased message plus any table/column the driver
// attached.
func errorText(err error) string {
	parts := []string{err.Error()}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		parts = append(parts, pqErr.Table, pqErr.Column)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		parts = append(parts, pgErr.TableName, pgErr.ColumnName)
	}
	return strings.ToLower(strings.Join(parts, " "))
}

// Scope limits recovery to errors that mention one of a set of tables or
// columns.
type Scope struct {
	markers []string
}

// NewScope builds a scope from table and column names.
func NewScope(markers ...string) Scope {
	s := Scope{}
	return s.With(markers...)
}

// With returns a copy of the scope extended with more markers.
func (s Scope) With(markers ...string) Scope {
	out := Scope{markers: append([]string{}, s.markers...)}
	for _, m := range markers {
		m = strings.ToLower(strings.TrimSpace(m))
		if m != "" {
			out.markers = append(out.markers, m)
		}
	}
	return out
}

// Mentions reports whether err's text names anything in scope.
func (s Scope) Mentions(err error) bool {
	text := errorText(err)
	for _, m := range s.markers {
		if strings.Contains(text, m) {
			return true
		}
	}
	return false
}

// IsRecoverable reports whether err is schema drift that concerns this scope.
func (s Scope) IsRecoverable(err error) bool {
	if ClassifyDrift(err) == NoDrift {
		return false
	}
	return s.Mentions(err)
}

var (
	// CartScope covers the cart table and its owner column, including the
	// uuid/integer drift of the owner column.
	CartScope = NewScope("carts", "shopping_carts", "userid", "user_id",
		"status", "total", "lastactivityat", "last_activity_at", "uuid")

	// CartItemScope covers cart lines and the catalog rows they link to.
	CartItemScope = NewScope("cart_items", "cartid", "cart_id",
		"storefront_items", "storefrontitemid", "storefront_item_id", "productid", "product_id",
		"quantity", "price", "sessions", "totalsessions", "total_sessions",
		"packagetype", "package_type", "uuid")
)

// IsRecoverableCartSchemaError reports drift on the cart table.
func IsRecoverableCartSchemaError(err error) bool {
	return CartScope.IsRecoverable(err)
}

// IsRecoverableCartItemSchemaError reports drift on cart-item or catalog tables.
func IsRecoverableCartItemSchemaError(err error) bool {
	return CartItemScope.IsRecoverable(err)
}
