package postgres

import (
	"fmt"
	"strings"

	"github.com/alanyoungcy/skinarb/internal/domain"
)

// listQuery appends ListOpts filters on timeCol, newest first, to a SELECT
// that has no WHERE clause yet.
func listQuery(base, timeCol string, opts domain.ListOpts) (string, []any) {
	var b strings.Builder
	b.WriteString(base)
	var args []any
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	var where []string
	if opts.Since != nil {
		where = append(where, timeCol+" >= "+next(*opts.Since))
	}
	if opts.Until != nil {
		where = append(where, timeCol+" <= "+next(*opts.Until))
	}
	if len(where) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(where, " AND "))
	}
	b.WriteString(" ORDER BY " + timeCol + " DESC")
	if opts.Limit > 0 {
		b.WriteString(" LIMIT " + next(opts.Limit))
	}
	if opts.Offset > 0 {
		b.WriteString(" OFFSET " + next(opts.Offset))
	}
	return b.String(), args
}
