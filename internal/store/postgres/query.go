package postgres

import (
	"strconv"
	"strings"

	"github.com/alanyoungcy/updownbot/internal/domain"
)

// windowed appends the time range, ordering and paging of opts to base,
// filtering and sorting on column. It returns the query and its arguments.
func windowed(base, column string, opts domain.ListOpts) (string, []any) {
	var (
		b    strings.Builder
		args []any
	)
	b.WriteString(base)
	next := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}

	var conds []string
	if opts.Since != nil {
		conds = append(conds, column+" >= "+next(*opts.Since))
	}
	if opts.Until != nil {
		conds = append(conds, column+" <= "+next(*opts.Until))
	}
	if len(conds) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(conds, " AND "))
	}
	b.WriteString(" ORDER BY " + column + " DESC")
	if opts.Limit > 0 {
		b.WriteString(" LIMIT " + next(opts.Limit))
	}
	if opts.Offset > 0 {
		b.WriteString(" OFFSET " + next(opts.Offset))
	}
	return b.String(), args
}
