//go:build integration

package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/liamcoop/rulecheck/internal/config"
	"github.com/liamcoop/rulecheck/rules"
)

// setupTestDB creates a PostgreSQL testcontainer, runs migrations and returns its URL
func setupTestDB(t *testing.T) (string, func()) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_PASSWORD": "password",
			"POSTGRES_DB":       "testdb",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	postgres, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start postgres container: %v", err)
	}

	host, err := postgres.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}
	port, err := postgres.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	connStr := fmt.Sprintf("postgres://postgres:password@%s:%s/testdb?sslmode=disable", host, port.Port())

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	for i := 0; i < 30; i++ {
		if err := db.Ping(); err == nil {
			break
		}
		time.Sleep(100 * time.Millisecond)
	}

	migrationSQL, err := os.ReadFile("../../migrations/000001_initial_schema.up.sql")
	if err != nil {
		t.Fatalf("Failed to read migration file: %v", err)
	}
	if _, err := db.Exec(string(migrationSQL)); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}

	seed := rules.DefaultSeed()
	target := newContactTarget(t, false)
	seed.Targets[0].BaseURL = target.URL
	if err := rules.NewPostgresStore(db).ImportSeed(ctx, seed); err != nil {
		t.Fatalf("Failed to import seed: %v", err)
	}

	cleanup := func() {
		postgres.Terminate(ctx)
	}
	return connStr, cleanup
}

// TestEndToEnd_PostgresRunPack runs the baseline pack through a server backed by PostgreSQL
func TestEndToEnd_PostgresRunPack(t *testing.T) {
	connStr, cleanup := setupTestDB(t)
	defer cleanup()

	cfg := config.Default()
	cfg.Store.Driver = config.DriverPostgres
	cfg.Store.DatabaseURL = connStr

	server, err := NewServer(cfg)
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}
	defer server.db.Close()

	rec, body := doRequest(t, server, http.MethodGet, "/api/v1/health", nil)
	if rec.Code != http.StatusOK || body["store"] != config.DriverPostgres {
		t.Fatalf("health = %d %v, want healthy postgres", rec.Code, body)
	}

	for i := 0; i < 2; i++ {
		rec, body = doRequest(t, server, http.MethodPost, "/api/v1/run-pack", map[string]any{
			"packId":   "pack_baseline",
			"targetId": "tgt_echo",
		})
		if rec.Code != http.StatusOK {
			t.Fatalf("run %d: status = %d, want %d (body %s)", i, rec.Code, http.StatusOK, rec.Body.String())
		}
		if body["passCount"] != float64(1) {
			t.Errorf("run %d: passCount = %v, want 1 (body %v)", i, body["passCount"], body)
		}
	}

	rec, _ = doRequest(t, server, http.MethodGet, "/api/v1/rules/U2", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("GET rule status = %d, want %d", rec.Code, http.StatusOK)
	}
}
