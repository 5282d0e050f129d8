package store

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"regexp"

	_ "modernc.org/sqlite"
)

// domainNamePattern is spec §3's DomainState.name validation:
// [A-Za-z0-9_.]+ and not equal to "_". It doubles as the guarantee
// that a domain name is always a safe file-name component (spec §6
// "Persistent layout... validated to be safe for use as a file name").
var domainNamePattern = regexp.MustCompile(`^[A-Za-z0-9_.]+$`)

// ValidDomainName reports whether name satisfies spec §3's validation.
func ValidDomainName(name string) bool {
	return name != "_" && domainNamePattern.MatchString(name)
}

// entry is a persisted (value, version) pair for one key.
type entry struct {
	value   string
	version string
}

// opKind distinguishes the two shapes of a persisted mutation.
type opKind int

const (
	opUpsert opKind = iota
	opDelete
)

// persistOp is one accepted, non-ephemeral mutation queued for the
// domain's next transactional batch apply.
type persistOp struct {
	kind    opKind
	key     string
	value   string
	version string
}

// domainStore is the durable, ordered key/value map behind one domain
// (spec §1 "a durable ordered map with transactional batch semantics").
// One *sql.DB is opened per domain, per spec §5 "Persistent stores are
// opened once per worker" — modernc.org/sqlite is the pack's
// precedent for an embedded, cgo-free single-file store (see
// SPEC_FULL.md §11.6).
type domainStore struct {
	db *sql.DB
}

func openDomainStore(dbDir, domain string) (*domainStore, error) {
	path := filepath.Join(dbDir, domain+".db")
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open domain store %s: %w", domain, err)
	}
	// A single connection keeps every access serialized through the
	// domain's own single-threaded worker goroutine, matching spec §5's
	// "no explicit locks beyond the work_queue" guarantee and avoiding
	// SQLITE_BUSY from concurrent writers on the same file.
	db.SetMaxOpenConns(1)

	const ddl = `CREATE TABLE IF NOT EXISTS kv (
		key     TEXT PRIMARY KEY,
		value   TEXT NOT NULL,
		version TEXT NOT NULL
	)`
	if _, err := db.Exec(ddl); err != nil {
		db.Close()
		return nil, fmt.Errorf("init domain store %s: %w", domain, err)
	}

	return &domainStore{db: db}, nil
}

// snapshot returns every persisted key, for replay-on-subscribe (spec
// §4.3 "Replay completeness"). The ORDER BY only makes iteration
// deterministic for debugging; callers sort keys themselves where
// replay order matters (domain.go's handleSubscribe).
func (s *domainStore) snapshot(ctx context.Context) (map[string]entry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value, version FROM kv ORDER BY key ASC`)
	if err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}
	defer rows.Close()

	entries := make(map[string]entry)
	for rows.Next() {
		var key, value, version string
		if err := rows.Scan(&key, &value, &version); err != nil {
			return nil, fmt.Errorf("snapshot scan: %w", err)
		}
		entries[key] = entry{value: value, version: version}
	}
	return entries, rows.Err()
}

// applyBatch commits every op in a single transaction — the "single
// store transaction" spec §5 requires for batch operations.
func (s *domainStore) applyBatch(ctx context.Context, ops []persistOp) error {
	if len(ops) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin batch: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op once committed

	for _, op := range ops {
		switch op.kind {
		case opUpsert:
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO kv(key, value, version) VALUES (?, ?, ?)
				 ON CONFLICT(key) DO UPDATE SET value=excluded.value, version=excluded.version`,
				op.key, op.value, op.version); err != nil {
				return fmt.Errorf("upsert %s: %w", op.key, err)
			}
		case opDelete:
			if _, err := tx.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, op.key); err != nil {
				return fmt.Errorf("delete %s: %w", op.key, err)
			}
		}
	}

	return tx.Commit()
}

func (s *domainStore) close() error {
	return s.db.Close()
}
