package database

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/noah-isme/turnos-api/pkg/config"
)

func TestDSN(t *testing.T) {
	dsn := DSN(config.DatabaseConfig{
		Host:     "db",
		Port:     5433,
		User:     "turnos",
		Password: "secret",
		Name:     "turnos",
		SSLMode:  "disable",
	})
	assert.Equal(t, "host=db port=5433 user=turnos password=secret dbname=turnos sslmode=disable", dsn)
}

func TestMigrationsEmbedded(t *testing.T) {
	entries, err := migrationsFS.ReadDir("migrations")
	assert.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestNewPostgresHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewPostgres(ctx, config.DatabaseConfig{Host: "127.0.0.1", Port: 1, User: "x", Name: "x", SSLMode: "disable"})
	assert.Error(t, err)
}
