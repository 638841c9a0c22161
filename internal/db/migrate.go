package db

import (
	"context"
	"crypto/sha256"
	"embed"
	"encoding/hex"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"kitchenledger/internal/logger"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// migrationLockKey serializes RunMigrations across replicas starting at once.
const migrationLockKey int64 = 0x6b6c6d67

type migration struct {
	version  string
	body     string
	checksum string
}

// loadMigrations reads every .sql file under dir of fsys, ordered by name.
func loadMigrations(fsys fs.FS, dir string) ([]migration, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("read migrations dir: %w", err)
	}
	out := make([]migration, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		body, err := fs.ReadFile(fsys, path.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}
		sum := sha256.Sum256(body)
		out = append(out, migration{
			version:  entry.Name(),
			body:     string(body),
			checksum: hex.EncodeToString(sum[:]),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].version < out[j].version })
	return out, nil
}

// pending returns the migrations not in applied. A recorded migration whose
// file has changed since is an error; an empty recorded checksum predates
// checksums and is trusted.
func pending(all []migration, applied map[string]string) ([]migration, error) {
	out := make([]migration, 0, len(all))
	for _, m := range all {
		sum, ok := applied[m.version]
		if !ok {
			out = append(out, m)
			continue
		}
		if sum != "" && sum != m.checksum {
			return nil, fmt.Errorf("migration %s was modified after it was applied", m.version)
		}
	}
	return out, nil
}

// RunMigrations applies the embedded migrations that schema_migrations does
// not list yet, each in its own transaction. A session advisory lock keeps
// concurrent starts from applying the same file twice.
func RunMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	all, err := loadMigrations(migrationFiles, "migrations")
	if err != nil {
		return err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire migration connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "SELECT pg_advisory_lock($1)", migrationLockKey); err != nil {
		return fmt.Errorf("take migration lock: %w", err)
	}
	defer func() {
		if _, err := conn.Exec(context.WithoutCancel(ctx), "SELECT pg_advisory_unlock($1)", migrationLockKey); err != nil {
			logger.Warn(ctx).Err(err).Msg("release migration lock")
		}
	}()

	if _, err := conn.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		ALTER TABLE schema_migrations ADD COLUMN IF NOT EXISTS checksum TEXT NOT NULL DEFAULT '';
	`); err != nil {
		return fmt.Errorf("prepare schema_migrations: %w", err)
	}

	rows, err := conn.Query(ctx, "SELECT version, checksum FROM schema_migrations")
	if err != nil {
		return fmt.Errorf("load applied migrations: %w", err)
	}
	applied := make(map[string]string)
	var version, checksum string
	if _, err := pgx.ForEachRow(rows, []any{&version, &checksum}, func() error {
		applied[version] = checksum
		return nil
	}); err != nil {
		return fmt.Errorf("load applied migrations: %w", err)
	}

	todo, err := pending(all, applied)
	if err != nil {
		return err
	}
	for _, m := range todo {
		if err := pgx.BeginFunc(ctx, conn, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, m.body); err != nil {
				return fmt.Errorf("apply: %w", err)
			}
			if _, err := tx.Exec(ctx,
				"INSERT INTO schema_migrations (version, checksum) VALUES ($1, $2)",
				m.version, m.checksum,
			); err != nil {
				return fmt.Errorf("record: %w", err)
			}
			return nil
		}); err != nil {
			return fmt.Errorf("migration %s: %w", m.version, err)
		}
		logger.Info(ctx).Str("version", m.version).Str("checksum", m.checksum[:12]).Msg("migration applied")
	}
	return nil
}
