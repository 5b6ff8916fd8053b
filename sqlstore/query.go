package sqlstore

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/goliatone/go-repository-core/document"
	"github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun"
)

// identPattern restricts table and indexed field names to plain identifiers.
var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func jsonPath(field string) string {
	return `$."` + field + `"`
}

// where renders filter as a SQL condition over the data column. Placeholders
// use bun's ? syntax.
func where(filter document.Filter) (string, []any, error) {
	if len(filter) == 0 {
		return "1 = 1", nil, nil
	}
	clauses := make([]string, 0, len(filter))
	var args []any
	for _, p := range filter {
		path := jsonPath(p.Field)
		switch p.Op {
		case document.OpEq:
			if p.Value == nil {
				clauses = append(clauses, "json_extract(data, ?) IS NULL")
				args = append(args, path)
				continue
			}
			clauses = append(clauses, "json_extract(data, ?) = ?")
			args = append(args, path, p.Value)
		case document.OpNe:
			if p.Value == nil {
				clauses = append(clauses, "json_extract(data, ?) IS NOT NULL")
				args = append(args, path)
				continue
			}
			clauses = append(clauses, "(json_extract(data, ?) IS NULL OR json_extract(data, ?) <> ?)")
			args = append(args, path, path, p.Value)
		case document.OpIn:
			if len(p.Values) == 0 {
				clauses = append(clauses, "1 = 0")
				continue
			}
			clauses = append(clauses, "json_extract(data, ?) IN (?)")
			args = append(args, path, bun.In(p.Values))
		default:
			return "", nil, fmt.Errorf("%w: %s on %s", document.ErrUnsupportedPredicate, p.Op, p.Field)
		}
	}
	return strings.Join(clauses, " AND "), args, nil
}

// indexExpr renders the indexed expressions of spec. Index expressions cannot
// take bound parameters, so field names are restricted to plain identifiers.
func indexExpr(fields []string) (string, error) {
	if len(fields) == 0 {
		return "", errors.New("sqlstore: index needs at least one field")
	}
	parts := make([]string, len(fields))
	for i, f := range fields {
		if !identPattern.MatchString(f) {
			return "", fmt.Errorf("sqlstore: field %q cannot be indexed", f)
		}
		parts[i] = "json_extract(data, '" + jsonPath(f) + "')"
	}
	return strings.Join(parts, ", "), nil
}

// mapError exposes constraint failures as document.ErrDuplicateKey while
// keeping the driver error in the chain.
func mapError(err error) error {
	var se sqlite3.Error
	if errors.As(err, &se) && se.Code == sqlite3.ErrConstraint &&
		(se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey || se.ExtendedCode == sqlite3.ErrConstraintUnique) {
		return fmt.Errorf("%w: %w", document.ErrDuplicateKey, err)
	}
	return err
}
