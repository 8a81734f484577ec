package handler

import (
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseListOpts(t *testing.T) {
	opts, err := parseListOpts(url.Values{})
	require.NoError(t, err)
	assert.Equal(t, 50, opts.Limit)
	assert.Zero(t, opts.Offset)
	assert.Nil(t, opts.Since)

	opts, err = parseListOpts(url.Values{
		"limit":  {"9999"},
		"offset": {"10"},
		"since":  {"2025-03-01T08:00:00+08:00"},
	})
	require.NoError(t, err)
	assert.Equal(t, 500, opts.Limit)
	assert.Equal(t, 10, opts.Offset)
	require.NotNil(t, opts.Since)
	assert.True(t, opts.Since.Equal(time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)))
	assert.Nil(t, opts.Until)

	for _, bad := range []url.Values{
		{"limit": {"0"}},
		{"limit": {"x"}},
		{"offset": {"-1"}},
		{"until": {"yesterday"}},
	} {
		_, err := parseListOpts(bad)
		assert.Error(t, err, bad.Encode())
	}
}
