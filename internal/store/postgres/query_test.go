package postgres

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/alanyoungcy/updownbot/internal/domain"
)

func TestWindowed(t *testing.T) {
	since := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	until := since.Add(time.Hour)

	q, args := windowed("SELECT id FROM t", "ts", domain.ListOpts{})
	assert.Equal(t, "SELECT id FROM t ORDER BY ts DESC", q)
	assert.Empty(t, args)

	q, args = windowed("SELECT id FROM t", "ts", domain.ListOpts{Since: &since, Until: &until, Limit: 10, Offset: 20})
	assert.Equal(t, "SELECT id FROM t WHERE ts >= $1 AND ts <= $2 ORDER BY ts DESC LIMIT $3 OFFSET $4", q)
	assert.Equal(t, []any{since, until, 10, 20}, args)

	q, args = windowed("SELECT id FROM t", "ts", domain.ListOpts{Until: &until, Offset: 5})
	assert.Equal(t, "SELECT id FROM t WHERE ts <= $1 ORDER BY ts DESC OFFSET $2", q)
	assert.Equal(t, []any{until, 5}, args)
}
