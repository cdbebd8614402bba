package migrate

import (
	"context"
	"errors"
	"io/fs"
	"strings"
	"testing"
	"testing/fstest"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

var appliedAt = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

func expectTables(mock sqlmock.Sqlmock) {
	mock.ExpectExec("create table if not exists schema_migrations").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("create table if not exists schema_seeds").WillReturnResult(sqlmock.NewResult(0, 0))
}

func historyRows(names ...string) *sqlmock.Rows {
	rows := sqlmock.NewRows([]string{"name", "applied_at"})
	for _, n := range names {
		rows.AddRow(n, appliedAt)
	}
	return rows
}

func TestUpAppliesOnlyPending(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	migrations := fstest.MapFS{
		"0001_init.up.sql":   {Data: []byte("create table a (id text);")},
		"0001_init.down.sql": {Data: []byte("drop table a;")},
		"0002_more.up.sql":   {Data: []byte("-- participants\ncreate table b (id text); create index b_idx on b (id);\n")},
		"0002_more.down.sql": {Data: []byte("drop table b;")},
	}

	expectTables(mock)
	mock.ExpectQuery("select name, applied_at from schema_migrations").WillReturnRows(historyRows("0001_init.up.sql"))
	mock.ExpectBegin()
	mock.ExpectExec("pg_advisory_xact_lock").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("select exists").WithArgs("0002_more.up.sql").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectExec("create table b").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("create index b_idx").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("insert into schema_migrations").WithArgs("0002_more.up.sql", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	if err := NewManager(db, migrations, nil).Up(context.Background()); err != nil {
		t.Fatalf("Up: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestUpSkipsFileAppliedByAnotherReplica(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	migrations := fstest.MapFS{"0001_init.up.sql": {Data: []byte("create table a (id text);")}}

	expectTables(mock)
	mock.ExpectQuery("select name, applied_at from schema_migrations").WillReturnRows(historyRows())
	mock.ExpectBegin()
	mock.ExpectExec("pg_advisory_xact_lock").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("select exists").WithArgs("0001_init.up.sql").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectCommit()

	if err := NewManager(db, migrations, nil).Up(context.Background()); err != nil {
		t.Fatalf("Up: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestFailedMigrationIsNotRecorded(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	migrations := fstest.MapFS{"0001_init.up.sql": {Data: []byte("create table a (id text);")}}

	expectTables(mock)
	mock.ExpectQuery("select name, applied_at from schema_migrations").WillReturnRows(historyRows())
	mock.ExpectBegin()
	mock.ExpectExec("pg_advisory_xact_lock").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("select exists").WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectExec("create table a").WillReturnError(errors.New("syntax error"))
	mock.ExpectRollback()

	err = NewManager(db, migrations, nil).Up(context.Background())
	if err == nil || !strings.Contains(err.Error(), "0001_init.up.sql") {
		t.Fatalf("expected an error naming the file, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestDownRollsBackLatest(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	migrations := fstest.MapFS{
		"0001_init.up.sql":   {Data: []byte("create table a (id text);")},
		"0001_init.down.sql": {Data: []byte("drop table a;")},
	}

	expectTables(mock)
	mock.ExpectQuery("select name, applied_at from schema_migrations").WillReturnRows(historyRows("0001_init.up.sql"))
	mock.ExpectBegin()
	mock.ExpectExec("pg_advisory_xact_lock").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("drop table a").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("delete from schema_migrations").WithArgs("0001_init.up.sql").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := NewManager(db, migrations, nil).Down(context.Background()); err != nil {
		t.Fatalf("Down: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestDownWithEmptyHistory(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	expectTables(mock)
	mock.ExpectQuery("select name, applied_at from schema_migrations").WillReturnRows(historyRows())

	if err := NewManager(db, fstest.MapFS{}, nil).Down(context.Background()); !errors.Is(err, ErrNothingApplied) {
		t.Fatalf("expected ErrNothingApplied, got %v", err)
	}
}

func TestStatusListsPendingMigrations(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	migrations := fstest.MapFS{
		"0001_auth.up.sql":       {Data: []byte("select 1;")},
		"0002_agreements.up.sql": {Data: []byte("select 1;")},
	}
	expectTables(mock)
	mock.ExpectQuery("select name, applied_at from schema_migrations").WillReturnRows(historyRows("0001_auth.up.sql"))

	entries, err := NewManager(db, migrations, nil).Status(context.Background())
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if len(entries) != 2 || entries[0].AppliedAt == nil || entries[1].AppliedAt != nil {
		t.Fatalf("unexpected status %+v", entries)
	}
}

func TestEmbeddedMigrationsArePaired(t *testing.T) {
	ups, err := fs.Glob(Migrations(), "*.up.sql")
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	if len(ups) == 0 {
		t.Fatal("expected embedded migrations")
	}
	for _, up := range ups {
		down := strings.TrimSuffix(up, ".up.sql") + ".down.sql"
		if _, err := fs.Stat(Migrations(), down); err != nil {
			t.Fatalf("missing %s", down)
		}
	}
	seeds, err := collectSQL(Seeds(), ".sql")
	if err != nil || len(seeds) == 0 {
		t.Fatalf("expected embedded seeds, got %v (%v)", seeds, err)
	}
}

func TestSplitStatements(t *testing.T) {
	cases := []struct {
		name   string
		script string
		want   int
	}{
		{name: "quoted semicolon", script: "insert into t values ('a;b'); select 1;", want: 2},
		{name: "comment with semicolon", script: "-- drop; later\nselect 1;\n-- trailing note\n", want: 1},
		{name: "dollar quoted body", script: "create function f() returns int as $$ select 1; $$ language sql; select 2;", want: 2},
		{name: "tagged dollar quote", script: "do $body$ begin perform 1; end $body$; select $1;", want: 2},
		{name: "quoted identifier", script: `create table "odd;name" (id text);`, want: 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			stmts := splitStatements(tc.script)
			if len(stmts) != tc.want {
				t.Fatalf("expected %d statements, got %d: %q", tc.want, len(stmts), stmts)
			}
		})
	}
}
