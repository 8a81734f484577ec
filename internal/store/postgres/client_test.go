package postgres

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDSN(t *testing.T) {
	tests := []struct {
		name string
		cfg  ClientConfig
		want string
	}{
		{"explicit dsn wins", ClientConfig{DSN: "postgres://x", Host: "ignored"}, "postgres://x"},
		{"built", ClientConfig{Host: "db", User: "u", Password: "p", Database: "bot"}, "postgres://u:p@db:5432/bot?sslmode=disable"},
		{"custom port and ssl", ClientConfig{Host: "db", Port: 6543, User: "u", Database: "bot", SSLMode: "require"}, "postgres://u:@db:6543/bot?sslmode=require"},
		{"password escaped", ClientConfig{Host: "db", User: "u", Password: "p@ss/w", Database: "bot"}, "postgres://u:p%40ss%2Fw@db:5432/bot?sslmode=disable"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DSN(tt.cfg))
		})
	}
}

func TestMigrationsEmbedded(t *testing.T) {
	names, err := migrationFiles()
	require.NoError(t, err)
	require.NotEmpty(t, names)
	assert.Equal(t, "001_init.sql", names[0])

	data, err := migrationsFS.ReadFile("migrations/" + names[0])
	require.NoError(t, err)
	assert.Contains(t, string(data), "CREATE TABLE IF NOT EXISTS trade_records")
	assert.Contains(t, string(data), "CREATE TABLE IF NOT EXISTS audit_log")
}
