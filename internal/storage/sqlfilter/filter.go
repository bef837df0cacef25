// Package sqlfilter renders savecode.ListFilter into SQL WHERE clauses shared
// by the relational request stores.
package sqlfilter

import (
	"fmt"
	"strings"
	"time"

	"github.com/JakeFAU/savecodenow/internal/savecode"
)

// Dialect captures the syntax differences between stores.
type Dialect struct {
	// Placeholder renders the n-th (1-based) bind parameter.
	Placeholder func(n int) string
	// Like is the case-insensitive substring operator.
	Like string
	// Time converts a timestamp into the stored representation.
	Time func(time.Time) any
	// Bool converts a boolean into the stored representation.
	Bool func(bool) any
	// NoLimit is the LIMIT expression meaning "all rows".
	NoLimit string
}

// Postgres uses $n placeholders and ILIKE.
var Postgres = Dialect{
	Placeholder: func(n int) string { return fmt.Sprintf("$%d", n) },
	Like:        "ILIKE",
	Time:        func(t time.Time) any { return t.UTC() },
	Bool:        func(b bool) any { return b },
	NoLimit:     "ALL",
}

// Where renders filter as a WHERE clause (empty when the filter matches
// everything) and returns its bind arguments. Placeholders start at offset+1.
func Where(d Dialect, filter savecode.ListFilter, offset int) (string, []any) {
	var (
		clauses []string
		args    []any
	)
	next := func(v any) string {
		args = append(args, v)
		return d.Placeholder(offset + len(args))
	}

	if filter.Status != "" {
		clauses = append(clauses, "status = "+next(string(filter.Status)))
	}
	if len(filter.LoadingTaskStatuses) > 0 {
		phs := make([]string, len(filter.LoadingTaskStatuses))
		for i, status := range filter.LoadingTaskStatuses {
			phs[i] = next(string(status))
		}
		clauses = append(clauses, "loading_task_status IN ("+strings.Join(phs, ", ")+")")
	}
	if filter.VisitType != "" {
		clauses = append(clauses, "visit_type = "+next(filter.VisitType))
	}
	if filter.OriginURL != "" {
		clauses = append(clauses, "origin_url = "+next(filter.OriginURL))
	}
	if filter.OriginURLs != nil {
		if len(filter.OriginURLs) == 0 {
			clauses = append(clauses, "1 = 0")
		} else {
			phs := make([]string, len(filter.OriginURLs))
			for i, url := range filter.OriginURLs {
				phs[i] = next(url)
			}
			clauses = append(clauses, "origin_url IN ("+strings.Join(phs, ", ")+")")
		}
	}
	if filter.Query != "" {
		clauses = append(clauses, fmt.Sprintf(`origin_url %s %s ESCAPE '\'`, d.Like, next("%"+escapeLike(filter.Query)+"%")))
	}
	if filter.FromWebhook != nil {
		clauses = append(clauses, "from_webhook = "+next(d.Bool(*filter.FromWebhook)))
	}
	if filter.Since != nil {
		clauses = append(clauses, "request_date > "+next(d.Time(*filter.Since)))
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

// Paginate renders LIMIT/OFFSET with placeholders following offset.
func Paginate(d Dialect, page savecode.Page, offset int) (string, []any) {
	var (
		sb   strings.Builder
		args []any
	)
	if page.Limit > 0 {
		args = append(args, page.Limit)
		fmt.Fprintf(&sb, " LIMIT %s", d.Placeholder(offset+len(args)))
	} else if page.Offset > 0 {
		sb.WriteString(" LIMIT " + d.NoLimit)
	}
	if page.Offset > 0 {
		args = append(args, page.Offset)
		fmt.Fprintf(&sb, " OFFSET %s", d.Placeholder(offset+len(args)))
	}
	return sb.String(), args
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
