package store

import (
	"context"
	"os"
	"testing"
	"time"
)

func skipWithoutDB(t *testing.T) string {
	t.Helper()
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		t.Skip("DATABASE_URL not set, skipping integration test")
	}
	return url
}

func setupTestStore(t *testing.T) *Postgres {
	t.Helper()
	url := skipWithoutDB(t)
	s, err := NewPostgres(context.Background(), url)
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

func TestIntegration_PostgresApplyAndLoad(t *testing.T) {
	s := setupTestStore(t)
	exerciseStore(t, s, "integration-"+time.Now().Format("20060102150405")+"-")
}
