//go:build integration

package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/rs/zerolog"
)

var testPool *pgxpool.Pool

// TestMain uses PIPELINE_TEST_DATABASE_URL when set; otherwise it starts a
// throwaway postgres container on the host network.
func TestMain(m *testing.M) {
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	ctx := context.Background()

	dsn := os.Getenv("PIPELINE_TEST_DATABASE_URL")
	stop := func() {}
	if dsn == "" {
		var err error
		dsn, stop, err = startContainer()
		if err != nil {
			log.Fatal().Err(err).Msg("start postgres container; is docker running?")
		}
	}

	pool, err := connectWithRetry(ctx, dsn, 15, 2*time.Second)
	if err != nil {
		stop()
		log.Fatal().Err(err).Msg("connect to test database")
	}
	testPool = pool
	if err := applySchema(ctx, pool); err != nil {
		pool.Close()
		stop()
		log.Fatal().Err(err).Msg("apply schema")
	}

	code := m.Run()

	// os.Exit skips defers
	pool.Close()
	stop()
	os.Exit(code)
}

func startContainer() (string, func(), error) {
	const (
		name = "pipeline-test"
		user = "pipeline"
		pass = "pipeline"
	)
	out, err := exec.Command("docker", "run", "-d", "--rm", "--network", "host",
		"-e", "POSTGRES_DB="+name,
		"-e", "POSTGRES_USER="+user,
		"-e", "POSTGRES_PASSWORD="+pass,
		"postgres:16-alpine",
	).Output()
	if err != nil {
		return "", nil, err
	}
	id := strings.TrimSpace(string(out))
	stop := func() { _ = exec.Command("docker", "stop", id).Run() }
	return fmt.Sprintf("postgres://%s:%s@localhost:5432/%s?sslmode=disable", user, pass, name), stop, nil
}

func connectWithRetry(ctx context.Context, dsn string, attempts int, wait time.Duration) (*pgxpool.Pool, error) {
	var lastErr error
	for i := 0; i < attempts; i++ {
		pool, err := Connect(ctx, dsn)
		if err == nil {
			return pool, nil
		}
		lastErr = err
		time.Sleep(wait)
	}
	return nil, lastErr
}

// applySchema runs deploy/postgres/init.sql, found by walking up to go.mod.
func applySchema(ctx context.Context, pool *pgxpool.Pool) error {
	dir, err := os.Getwd()
	if err != nil {
		return err
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			break
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return errors.New("go.mod not found above the test directory")
		}
		dir = parent
	}
	schema, err := os.ReadFile(filepath.Join(dir, "deploy", "postgres", "init.sql"))
	if err != nil {
		return err
	}
	_, err = pool.Exec(ctx, string(schema))
	return err
}

func cleanup(t *testing.T) {
	t.Helper()
	if _, err := testPool.Exec(context.Background(), `TRUNCATE image_versions, image_jobs CASCADE`); err != nil {
		t.Fatalf("truncate: %v", err)
	}
}
