package database

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/noah-isme/sma-attendance-api/pkg/config"
)

func TestDSNIncludesApplicationName(t *testing.T) {
	dsn := DSN(config.DatabaseConfig{Host: "db", Port: 5433, User: "svc", Password: "pw", Name: "attendance", SSLMode: "require"})
	assert.Equal(t, "host=db port=5433 user=svc password=pw dbname=attendance sslmode=require application_name=sma-attendance-api connect_timeout=5", dsn)
}
