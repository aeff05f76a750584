package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"botmaster/internal/store"

	"github.com/google/uuid"
)

// pathUUID parses the named path value or writes a 400 naming what.
func pathUUID(w http.ResponseWriter, r *http.Request, name, what string) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue(name))
	if err != nil {
		httpError(w, "Invalid "+what, http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}

func pathInt(w http.ResponseWriter, r *http.Request, name, what string) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue(name), 10, 64)
	if err != nil || id <= 0 {
		httpError(w, "Invalid "+what, http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

// query collects query parsing errors so a handler reports only the first.
type query struct {
	r   *http.Request
	bad string
}

func newQuery(r *http.Request) *query {
	return &query{r: r}
}

func (q *query) fail(name string) {
	if q.bad == "" {
		q.bad = "Invalid query parameter " + name
	}
}

func (q *query) str(name string) string {
	return strings.TrimSpace(q.r.URL.Query().Get(name))
}

func (q *query) optStr(name string) *string {
	if v := q.str(name); v != "" {
		return &v
	}
	return nil
}

func (q *query) number(name string) int {
	v := q.str(name)
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		q.fail(name)
	}
	return n
}

func (q *query) optInt64(name string) *int64 {
	v := q.str(name)
	if v == "" {
		return nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		q.fail(name)
		return nil
	}
	return &n
}

func (q *query) optBool(name string) *bool {
	v := q.str(name)
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		q.fail(name)
		return nil
	}
	return &b
}

func (q *query) optTime(name string) *time.Time {
	v := q.str(name)
	if v == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		q.fail(name)
		return nil
	}
	return &t
}

// list splits repeated and comma separated values.
func (q *query) list(name string) []string {
	var out []string
	for _, raw := range q.r.URL.Query()[name] {
		for _, v := range strings.Split(raw, ",") {
			if v = strings.TrimSpace(v); v != "" {
				out = append(out, v)
			}
		}
	}
	return out
}

func (q *query) page() store.Page {
	return store.Page{Page: q.number("page"), PageSize: q.number("pageSize")}
}

// ok writes a 400 for the first bad parameter and reports whether all parsed.
func (q *query) ok(w http.ResponseWriter) bool {
	if q.bad != "" {
		httpError(w, q.bad, http.StatusBadRequest)
		return false
	}
	return true
}
