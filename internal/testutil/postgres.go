package testutil

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/modsift/modsift/db"
)

// TestDBContainer wraps a PostgreSQL test container with a connection pool.
// The container runs the pgvector image and has the modsift schema applied.
type TestDBContainer struct {
	Container *postgres.PostgresContainer
	Pool      *pgxpool.Pool
	ConnStr   string
}

// SetupTestDB creates an isolated pgvector-enabled PostgreSQL container for
// integration tests and applies the embedded migrations.
//
// Skips the test when Docker is unavailable or MODSIFT_SKIP_DOCKER_TESTS is
// set. Returns the container plus a cleanup function that must be called.
func SetupTestDB(t *testing.T) (*TestDBContainer, func()) {
	t.Helper()

	if os.Getenv("MODSIFT_SKIP_DOCKER_TESTS") != "" {
		t.Skip("MODSIFT_SKIP_DOCKER_TESTS set - skipping container-backed test")
	}

	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"pgvector/pgvector:pg16",
		postgres.WithDatabase("modsift_test"),
		postgres.WithUsername("modsift_test"),
		postgres.WithPassword("test_password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	if err != nil {
		t.Skipf("could not start postgres container (docker unavailable?): %v", err)
	}
	cleanup := func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate postgres container: %v", err)
		}
	}

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		cleanup()
		t.Fatalf("getting connection string: %v", err)
	}

	if err := db.Migrate(connStr); err != nil {
		cleanup()
		t.Fatalf("applying migrations: %v", err)
	}

	pool, err := db.NewPool(ctx, connStr)
	if err != nil {
		cleanup()
		t.Fatalf("creating connection pool: %v", err)
	}

	return &TestDBContainer{
			Container: pgContainer,
			Pool:      pool,
			ConnStr:   connStr,
		}, func() {
			pool.Close()
			cleanup()
		}
}

// InsertExample loads one labeled example into the test warehouse.
func InsertExample(ctx context.Context, pool *pgxpool.Pool, id, text, category string, embedding []float32) error {
	vec := "["
	for i, f := range embedding {
		if i > 0 {
			vec += ","
		}
		vec += fmt.Sprintf("%g", f)
	}
	vec += "]"
	_, err := pool.Exec(ctx,
		`INSERT INTO moderation_examples (id, text, category, embedding) VALUES ($1, $2, $3, $4::vector)`,
		id, text, category, vec)
	return err
}
