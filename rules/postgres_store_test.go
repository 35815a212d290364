//go:build integration
// +build integration

package rules_test

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/liamcoop/rulecheck/rules"

	_ "github.com/lib/pq"
)

// setupTestDB starts a PostgreSQL container, applies the schema and returns a connection
func setupTestDB(t *testing.T) (*sql.DB, func()) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "rulecheck_test",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start PostgreSQL container: %v", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	connStr := fmt.Sprintf("host=%s port=%s user=test password=test dbname=rulecheck_test sslmode=disable", host, port.Port())

	var db *sql.DB
	for i := 0; i < 30; i++ {
		db, err = sql.Open("postgres", connStr)
		if err == nil {
			if err = db.Ping(); err == nil {
				break
			}
		}
		time.Sleep(time.Second)
	}
	if err != nil {
		t.Fatalf("Failed to connect to database: %v", err)
	}

	migrationSQL, err := os.ReadFile(filepath.Join("..", "migrations", "000001_initial_schema.up.sql"))
	if err != nil {
		t.Fatalf("Failed to read migration file: %v", err)
	}
	if _, err := db.Exec(string(migrationSQL)); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}

	cleanup := func() {
		db.Close()
		container.Terminate(ctx)
	}
	return db, cleanup
}

func TestPostgresStore_RoundTrip(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := rules.NewPostgresStore(db)

	rule := &rules.Rule{
		ID:             "no_ssn",
		Name:           "No SSNs",
		Category:       "Privacy",
		Scoring:        "regex",
		PromptTemplate: "Describe {{customer}}",
		Expected:       map[string]any{"mustNotMatch": []any{`\d{3}-\d{2}-\d{4}`}},
		IO:             rules.IO{Expects: rules.ExpectsText},
	}
	if err := store.PutRule(ctx, rule); err != nil {
		t.Fatalf("PutRule() failed: %v", err)
	}

	got, err := store.LookupRule(ctx, "no_ssn")
	if err != nil {
		t.Fatalf("LookupRule() failed: %v", err)
	}
	if got.PromptTemplate != rule.PromptTemplate {
		t.Errorf("PromptTemplate = %q, want %q", got.PromptTemplate, rule.PromptTemplate)
	}
	patterns, ok := got.Expected["mustNotMatch"].([]any)
	if !ok || len(patterns) != 1 {
		t.Errorf("Expected = %#v, want the stored pattern list", got.Expected)
	}
	if got.IO.Expects != rules.ExpectsText || got.IO.Field != "" {
		t.Errorf("IO = %+v, want text without field", got.IO)
	}

	rule.Name = "No social security numbers"
	if err := store.PutRule(ctx, rule); err != nil {
		t.Fatalf("PutRule() update failed: %v", err)
	}
	got, err = store.LookupRule(ctx, "no_ssn")
	if err != nil {
		t.Fatalf("LookupRule() failed: %v", err)
	}
	if got.Name != "No social security numbers" {
		t.Errorf("Name = %q after update, want the new name", got.Name)
	}
}

func TestPostgresStore_TargetJSONColumns(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := rules.NewPostgresStore(db)

	target := &rules.Target{
		ID:           "local",
		Name:         "Local",
		Method:       "POST",
		BaseURL:      "http://localhost:8080/complete",
		Headers:      map[string]string{"Authorization": "Bearer {{token}}"},
		BodyTemplate: map[string]any{"input": "{{prompt}}", "n": float64(1)},
	}
	if err := store.PutTarget(ctx, target); err != nil {
		t.Fatalf("PutTarget() failed: %v", err)
	}

	got, err := store.LookupTarget(ctx, "local")
	if err != nil {
		t.Fatalf("LookupTarget() failed: %v", err)
	}
	if got.Type != rules.TargetTypeHTTP {
		t.Errorf("Type = %q, want %q", got.Type, rules.TargetTypeHTTP)
	}
	if got.Headers["Authorization"] != "Bearer {{token}}" {
		t.Errorf("Headers = %v, want the stored header", got.Headers)
	}
	body, ok := got.BodyTemplate.(map[string]any)
	if !ok || body["input"] != "{{prompt}}" || body["n"] != float64(1) {
		t.Errorf("BodyTemplate = %#v, want the stored template", got.BodyTemplate)
	}
	if got.Capabilities != nil {
		t.Errorf("Capabilities = %v, want nil", got.Capabilities)
	}
}

func TestPostgresStore_PackOrderAndDroppedRules(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := rules.NewPostgresStore(db)

	for _, id := range []string{"A", "B"} {
		r := &rules.Rule{ID: id, Name: id, Scoring: "exact", IO: rules.IO{Expects: rules.ExpectsText}}
		if err := store.PutRule(ctx, r); err != nil {
			t.Fatalf("PutRule(%s) failed: %v", id, err)
		}
	}

	pack := &rules.Pack{
		ID:   "p",
		Name: "Pack",
		Rules: []rules.PackRule{
			{ID: "B", Freq: "hourly", Threshold: 0.5},
			{ID: "ghost"},
			{ID: "A"},
		},
	}
	if err := store.PutPack(ctx, pack); err != nil {
		t.Fatalf("PutPack() failed: %v", err)
	}

	gotPack, err := store.LookupPack(ctx, "p")
	if err != nil {
		t.Fatalf("LookupPack() failed: %v", err)
	}
	if len(gotPack.Rules) != 3 {
		t.Fatalf("len(Rules) = %d, want 3", len(gotPack.Rules))
	}
	if gotPack.Rules[0].ID != "B" || gotPack.Rules[0].Freq != "hourly" || gotPack.Rules[0].Threshold != 0.5 {
		t.Errorf("Rules[0] = %+v, want B hourly 0.5", gotPack.Rules[0])
	}
	if gotPack.Rules[1].Freq != "daily" {
		t.Errorf("Rules[1].Freq = %q, want default daily", gotPack.Rules[1].Freq)
	}

	resolved, err := store.LookupRulesForPack(ctx, gotPack)
	if err != nil {
		t.Fatalf("LookupRulesForPack() failed: %v", err)
	}
	if len(resolved) != 2 || resolved[0].ID != "B" || resolved[1].ID != "A" {
		t.Errorf("resolved rules = %v, want [B A]", resolved)
	}

	pack.Rules = []rules.PackRule{{ID: "A"}}
	if err := store.PutPack(ctx, pack); err != nil {
		t.Fatalf("PutPack() replace failed: %v", err)
	}
	gotPack, err = store.LookupPack(ctx, "p")
	if err != nil {
		t.Fatalf("LookupPack() failed: %v", err)
	}
	if len(gotPack.Rules) != 1 {
		t.Errorf("len(Rules) = %d after replace, want 1", len(gotPack.Rules))
	}
}

func TestPostgresStore_NotFound(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := rules.NewPostgresStore(db)

	if _, err := store.LookupPack(ctx, "missing"); !errors.Is(err, rules.ErrNotFound) {
		t.Errorf("LookupPack() error = %v, want ErrNotFound", err)
	}
	if _, err := store.LookupTarget(ctx, "missing"); !errors.Is(err, rules.ErrNotFound) {
		t.Errorf("LookupTarget() error = %v, want ErrNotFound", err)
	}
	if _, err := store.LookupRule(ctx, "missing"); !errors.Is(err, rules.ErrNotFound) {
		t.Errorf("LookupRule() error = %v, want ErrNotFound", err)
	}
}

func TestPostgresStore_ImportSeedAndRun(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := rules.NewPostgresStore(db)

	if err := store.ImportSeed(ctx, rules.DefaultSeed()); err != nil {
		t.Fatalf("ImportSeed() failed: %v", err)
	}
	if err := store.ImportSeed(ctx, rules.DefaultSeed()); err != nil {
		t.Fatalf("ImportSeed() should be repeatable: %v", err)
	}

	cached := rules.NewCachedStore(store, rules.NewInMemoryRulesCache(rules.DefaultCacheConfig()))
	engine := rules.NewEngine(cached, staticInvoker{out: map[string]any{
		"name":  "Ada",
		"email": "ada@example.com",
		"tags":  []any{},
	}})

	out, err := engine.ExecuteRun(ctx, rules.ExecuteRunInput{PackID: "pack_baseline", TargetID: "tgt_echo"})
	if err != nil {
		t.Fatalf("ExecuteRun() failed: %v", err)
	}
	if out.PassCount != 1 {
		t.Errorf("PassCount = %d, want 1 (results %+v)", out.PassCount, out.Results)
	}
}

type staticInvoker struct {
	out any
}

func (s staticInvoker) Invoke(context.Context, *rules.Target, string, map[string]string) (any, error) {
	return s.out, nil
}
