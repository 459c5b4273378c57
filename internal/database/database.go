// Package database opens the Postgres handles used by the service and
// applies its schema.
package database

import (
	"bufio"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/lib/pq"
)

// EnvKey is consulted when no database url is configured.
const EnvKey = "DATABASE_URL"

// NewDB opens a database/sql handle. An empty url falls back to
// DATABASE_URL in the environment or the nearest .env file.
func NewDB(ctx context.Context, dbURL string) (*sql.DB, error) {
	dbURL, err := ResolveURL(dbURL)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}

	return db, nil
}

// NewPool opens the pgx pool the job queue runs on.
func NewPool(ctx context.Context, dbURL string) (*pgxpool.Pool, error) {
	dbURL, err := ResolveURL(dbURL)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create pgx pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping pgx pool: %w", err)
	}
	return pool, nil
}

// ResolveURL returns dbURL, or the DATABASE_URL fallback when it is empty.
func ResolveURL(dbURL string) (string, error) {
	if s := strings.TrimSpace(dbURL); s != "" {
		return s, nil
	}
	if direct := strings.TrimSpace(os.Getenv(EnvKey)); direct != "" {
		return direct, nil
	}

	wd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("get working directory: %w", err)
	}
	envPath, err := findEnvFile(wd)
	if err != nil {
		return "", fmt.Errorf("no database url configured: %w", err)
	}
	return readEnvValue(envPath, EnvKey)
}

func readEnvValue(envPath, key string) (string, error) {
	file, err := os.Open(envPath)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", envPath, err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")

		eqIdx := strings.IndexRune(line, '=')
		if eqIdx <= 0 || strings.TrimSpace(line[:eqIdx]) != key {
			continue
		}

		value := strings.TrimSpace(line[eqIdx+1:])
		value = strings.Trim(value, "\"'")
		value = strings.TrimFunc(value, unicode.IsSpace)
		if value == "" {
			return "", fmt.Errorf("%s is empty in %s", key, envPath)
		}
		return value, nil
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("read %s: %w", envPath, err)
	}
	return "", errors.New(key + " not found in environment or .env")
}

func findEnvFile(start string) (string, error) {
	dir := start
	for {
		candidate := filepath.Join(dir, ".env")
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", fmt.Errorf(".env not found starting from %s", start)
}
