package redis

import (
	"crypto/tls"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/updownbot/internal/domain"
)

func TestQuoteKey(t *testing.T) {
	assert.Equal(t, "quote:BTC:Up", quoteKey("btc", domain.DirectionUp))
	assert.Equal(t, "quote:ETH:Down", quoteKey("ETH", domain.DirectionDown))
}

func TestQuoteFieldsRoundTrip(t *testing.T) {
	now := time.UnixMilli(1_700_000_123_456)
	q := domain.Quote{Price: decimal.RequireFromString("0.41"), Size: decimal.NewFromInt(120), Valid: true}

	fields := quoteFields(1_700_000_100, q, now)
	vals := make(map[string]string, len(fields))
	for k, v := range fields {
		vals[k] = v.(string)
	}

	got, err := parseQuote("btc", domain.DirectionUp, vals)
	require.NoError(t, err)
	assert.Equal(t, domain.CachedQuote{
		Asset:       "BTC",
		Direction:   domain.DirectionUp,
		WindowStart: 1_700_000_100,
		Price:       "0.41",
		Size:        "120",
		Time:        now,
	}, got)
}

func TestQuoteFieldsInvalid(t *testing.T) {
	fields := quoteFields(1, domain.Quote{}, time.Now())
	assert.Equal(t, "", fields["price"])
	assert.Equal(t, "", fields["size"])
}

func TestParseQuoteBadTimestamp(t *testing.T) {
	_, err := parseQuote("btc", domain.DirectionUp, map[string]string{"ts": "soon"})
	assert.Error(t, err)
}

func TestHasPattern(t *testing.T) {
	assert.True(t, hasPattern("ch:*"))
	assert.False(t, hasPattern("ch:strategy"))
}

func TestClientOptions(t *testing.T) {
	opts := ClientConfig{Addr: "cache:6379", DB: 2, PoolSize: 5}.options()
	assert.Equal(t, "cache:6379", opts.Addr)
	assert.Equal(t, 2, opts.DB)
	assert.Nil(t, opts.TLSConfig)

	opts = ClientConfig{Addr: "cache:6380", TLSEnabled: true}.options()
	require.NotNil(t, opts.TLSConfig)
	assert.Equal(t, uint16(tls.VersionTLS12), opts.TLSConfig.MinVersion)
}
