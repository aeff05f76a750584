package postgres

import (
	"encoding/json"
	"fmt"
	"strings"

	"botmaster/internal/store"
)

// assignment maps one patch field to its column.
type assignment struct {
	column string
	value  any
}

// buildUpdate renders an UPDATE for the given assignments. updated_at is
// always refreshed. The key is the last placeholder.
func buildUpdate(table, keyColumn string, key any, set []assignment, returning string) (string, []any) {
	parts := make([]string, 0, len(set)+1)
	args := make([]any, 0, len(set)+1)
	for _, a := range set {
		args = append(args, a.value)
		parts = append(parts, fmt.Sprintf("%s = $%d", a.column, len(args)))
	}
	parts = append(parts, "updated_at = NOW()")
	args = append(args, key)

	query := fmt.Sprintf("UPDATE %s SET %s WHERE %s = $%d RETURNING %s",
		table, strings.Join(parts, ", "), keyColumn, len(args), returning)
	return query, args
}

// where accumulates filter predicates with positional arguments so that the
// page query and the count query share them.
type where struct {
	conds []string
	args  []any
}

// add appends a predicate. Every %[1]s in format becomes the argument's placeholder.
func (w *where) add(format string, arg any) {
	w.args = append(w.args, arg)
	w.conds = append(w.conds, fmt.Sprintf(format, fmt.Sprintf("$%d", len(w.args))))
}

func (w *where) clause() string {
	if len(w.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.conds, " AND ")
}

// paged returns the query suffix and arguments for one page.
func (w *where) paged(order string, page store.Page) (string, []any) {
	page = page.Normalize()
	args := append(append([]any{}, w.args...), page.PageSize, page.Offset())
	suffix := fmt.Sprintf("%s ORDER BY %s LIMIT $%d OFFSET $%d", w.clause(), order, len(args)-1, len(args))
	return suffix, args
}

func likePattern(search string) string {
	return "%" + strings.TrimSpace(search) + "%"
}

// jsonObject encodes m for a NOT NULL jsonb column.
func jsonObject(m map[string]any) ([]byte, error) {
	if m == nil {
		m = map[string]any{}
	}
	return json.Marshal(m)
}

// jsonNullable encodes m for a nullable jsonb column; nil maps become NULL.
func jsonNullable(m map[string]any) (any, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

func decodeJSON(raw []byte) (map[string]any, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("decode json column: %w", err)
	}
	return m, nil
}

// jsonAssignment appends a jsonb assignment when m is set.
func jsonAssignment(set []assignment, column string, m map[string]any) ([]assignment, error) {
	if m == nil {
		return set, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", column, err)
	}
	return append(set, assignment{column, b}), nil
}
