// Package migrate applies the embedded casa schema and its seed data.
package migrate

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"hash/fnv"
	"io/fs"
	"path"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
)

//go:embed sql/*.sql seeds/*.sql
var embedded embed.FS

// Migrations returns the schema migrations shipped with the binary.
func Migrations() fs.FS {
	sub, _ := fs.Sub(embedded, "sql")
	return sub
}

// Seeds returns the seed files shipped with the binary.
func Seeds() fs.FS {
	sub, _ := fs.Sub(embedded, "seeds")
	return sub
}

const (
	defaultMigrationsTable = "schema_migrations"
	defaultSeedsTable      = "schema_seeds"
)

// ErrNothingApplied is returned by Down when the history is empty.
var ErrNothingApplied = errors.New("migrate: no migrations applied")

// set is one kind of tracked SQL file: schema migrations or seeds.
type set struct {
	kind   string
	fsys   fs.FS
	table  string
	suffix string
}

// Entry is one schema migration with its applied time. AppliedAt is nil while pending.
type Entry struct {
	Name      string
	AppliedAt *time.Time
}

// Manager applies schema migrations and seeds. Every file runs in its own
// transaction together with its bookkeeping row, under an advisory lock so
// replicas starting together apply each file once.
type Manager struct {
	db     *sql.DB
	schema set
	seeds  set
	logger *zap.Logger
	now    func() time.Time
}

// Option configures Manager.
type Option func(*Manager)

// WithMigrationsTable overrides the schema bookkeeping table.
func WithMigrationsTable(name string) Option {
	return func(m *Manager) {
		if name != "" {
			m.schema.table = name
		}
	}
}

// WithSeedsTable overrides the seed bookkeeping table.
func WithSeedsTable(name string) Option {
	return func(m *Manager) {
		if name != "" {
			m.seeds.table = name
		}
	}
}

// WithLogger reports each applied or rolled back file.
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// NewManager constructs a Manager. A nil seeds FS disables seeding.
func NewManager(db *sql.DB, migrations, seeds fs.FS, opts ...Option) *Manager {
	m := &Manager{
		db:     db,
		schema: set{kind: "migration", fsys: migrations, table: defaultMigrationsTable, suffix: ".up.sql"},
		seeds:  set{kind: "seed", fsys: seeds, table: defaultSeedsTable, suffix: ".sql"},
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Up applies all pending schema migrations in name order.
func (m *Manager) Up(ctx context.Context) error {
	return m.applyPending(ctx, m.schema)
}

// Seed applies pending seed files. Seeds must be idempotent SQL.
func (m *Manager) Seed(ctx context.Context) error {
	return m.applyPending(ctx, m.seeds)
}

// Down rolls back the most recently applied migration.
func (m *Manager) Down(ctx context.Context) error {
	if err := m.ensureTables(ctx); err != nil {
		return err
	}
	applied, err := m.history(ctx, m.schema.table)
	if err != nil {
		return err
	}
	if len(applied) == 0 {
		return ErrNothingApplied
	}
	last := applied[len(applied)-1].Name
	down := strings.TrimSuffix(last, ".up.sql") + ".down.sql"
	body, err := fs.ReadFile(m.schema.fsys, down)
	if err != nil {
		return fmt.Errorf("migrate: no rollback for %s: %w", last, err)
	}

	start := m.now()
	err = m.inTx(ctx, m.schema.table, func(tx *sql.Tx) error {
		if err := execAll(ctx, tx, body); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, fmt.Sprintf(`delete from %s where name = $1`, m.schema.table), last)
		return err
	})
	if err != nil {
		return fmt.Errorf("migrate: roll back %s: %w", last, err)
	}
	m.logger.Info("migration rolled back", zap.String("file", last), zap.Duration("took", m.now().Sub(start)))
	return nil
}

// Status lists every known migration in order, applied ones with their time.
// Applied names whose file is gone are listed too.
func (m *Manager) Status(ctx context.Context) ([]Entry, error) {
	if err := m.ensureTables(ctx); err != nil {
		return nil, err
	}
	applied, err := m.history(ctx, m.schema.table)
	if err != nil {
		return nil, err
	}
	files, err := collectSQL(m.schema.fsys, m.schema.suffix)
	if err != nil {
		return nil, err
	}
	byName := make(map[string]*time.Time, len(applied))
	for _, e := range applied {
		byName[e.Name] = e.AppliedAt
	}
	out := make([]Entry, 0, len(files))
	seen := make(map[string]bool, len(files))
	for _, name := range files {
		out = append(out, Entry{Name: name, AppliedAt: byName[name]})
		seen[name] = true
	}
	for _, e := range applied {
		if !seen[e.Name] {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *Manager) applyPending(ctx context.Context, s set) error {
	if err := m.ensureTables(ctx); err != nil {
		return err
	}
	done, err := m.applied(ctx, s.table)
	if err != nil {
		return err
	}
	files, err := collectSQL(s.fsys, s.suffix)
	if err != nil {
		return err
	}
	for _, name := range files {
		if done[name] {
			continue
		}
		body, err := fs.ReadFile(s.fsys, name)
		if err != nil {
			return fmt.Errorf("migrate: read %s %s: %w", s.kind, name, err)
		}
		start := m.now()
		var skipped bool
		err = m.inTx(ctx, s.table, func(tx *sql.Tx) error {
			// Another replica may have applied it while we waited on the lock.
			var exists bool
			q := fmt.Sprintf(`select exists(select 1 from %s where name = $1)`, s.table)
			if err := tx.QueryRowContext(ctx, q, name).Scan(&exists); err != nil {
				return err
			}
			if exists {
				skipped = true
				return nil
			}
			if err := execAll(ctx, tx, body); err != nil {
				return err
			}
			_, err := tx.ExecContext(ctx, fmt.Sprintf(`insert into %s(name, applied_at) values ($1, $2)`, s.table),
				name, m.now().UTC())
			return err
		})
		if err != nil {
			return fmt.Errorf("migrate: apply %s %s: %w", s.kind, name, err)
		}
		if skipped {
			continue
		}
		m.logger.Info(s.kind+" applied", zap.String("file", name), zap.Duration("took", m.now().Sub(start)))
	}
	return nil
}

// inTx runs fn in a transaction holding the advisory lock for table.
func (m *Manager) inTx(ctx context.Context, table string, fn func(*sql.Tx) error) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx, `select pg_advisory_xact_lock($1)`, lockKey(table)); err != nil {
		return fmt.Errorf("lock %s: %w", table, err)
	}
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func lockKey(table string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte("casa-migrate:" + table))
	return int64(h.Sum64())
}

func execAll(ctx context.Context, tx *sql.Tx, body []byte) error {
	for _, stmt := range splitStatements(string(body)) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) ensureTables(ctx context.Context) error {
	for _, table := range []string{m.schema.table, m.seeds.table} {
		ddl := fmt.Sprintf(`create table if not exists %s (
			name text primary key,
			applied_at timestamptz not null default now()
		)`, table)
		if _, err := m.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("migrate: create %s: %w", table, err)
		}
	}
	return nil
}

func (m *Manager) applied(ctx context.Context, table string) (map[string]bool, error) {
	entries, err := m.history(ctx, table)
	if err != nil {
		return nil, err
	}
	out := make(map[string]bool, len(entries))
	for _, e := range entries {
		out[e.Name] = true
	}
	return out, nil
}

func (m *Manager) history(ctx context.Context, table string) ([]Entry, error) {
	rows, err := m.db.QueryContext(ctx, fmt.Sprintf(`select name, applied_at from %s order by applied_at asc, name asc`, table))
	if err != nil {
		return nil, fmt.Errorf("migrate: read %s: %w", table, err)
	}
	defer rows.Close()
	var out []Entry
	for rows.Next() {
		var (
			name string
			at   time.Time
		)
		if err := rows.Scan(&name, &at); err != nil {
			return nil, err
		}
		out = append(out, Entry{Name: name, AppliedAt: &at})
	}
	return out, rows.Err()
}

// collectSQL returns the top level files of fsys ending in suffix, sorted.
// A ".down.sql" file never counts as a seed.
func collectSQL(fsys fs.FS, suffix string) ([]string, error) {
	if fsys == nil {
		return nil, nil
	}
	entries, err := fs.ReadDir(fsys, ".")
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, suffix) {
			continue
		}
		if suffix == ".sql" && strings.HasSuffix(name, ".down.sql") {
			continue
		}
		names = append(names, path.Base(name))
	}
	sort.Strings(names)
	return names, nil
}

// splitStatements cuts a script at top level semicolons. Quoted strings,
// quoted identifiers, dollar quoted bodies and "--" comments are kept intact.
func splitStatements(script string) []string {
	var (
		stmts   []string
		current strings.Builder
		quote   byte
		dollar  string
	)
	flush := func() {
		if s := strings.TrimSpace(current.String()); s != "" && !onlyComments(s) {
			stmts = append(stmts, s)
		}
		current.Reset()
	}
	for i := 0; i < len(script); i++ {
		c := script[i]
		switch {
		case dollar != "":
			if strings.HasPrefix(script[i:], dollar) {
				current.WriteString(dollar)
				i += len(dollar) - 1
				dollar = ""
				continue
			}
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '\'' || c == '"':
			quote = c
		case c == '-' && i+1 < len(script) && script[i+1] == '-':
			end := strings.IndexByte(script[i:], '\n')
			if end < 0 {
				end = len(script) - i
			}
			current.WriteString(script[i : i+end])
			i += end - 1
			continue
		case c == '$':
			if tag := dollarTag(script[i:]); tag != "" {
				dollar = tag
				current.WriteString(tag)
				i += len(tag) - 1
				continue
			}
		case c == ';':
			flush()
			continue
		}
		current.WriteByte(c)
	}
	flush()
	return stmts
}

// dollarTag returns the opening "$tag$" at the start of s, if any.
func dollarTag(s string) string {
	for j := 1; j < len(s); j++ {
		c := s[j]
		if c == '$' {
			return s[:j+1]
		}
		if !(c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || j > 1 && c >= '0' && c <= '9') {
			return ""
		}
	}
	return ""
}

func onlyComments(s string) bool {
	for _, line := range strings.Split(s, "\n") {
		if line = strings.TrimSpace(line); line != "" && !strings.HasPrefix(line, "--") {
			return false
		}
	}
	return true
}
