package migrate

import (
	"context"
	"io/fs"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/DATA-DOG/go-sqlmock"
	qt "github.com/frankban/quicktest"
)

func testFS() fstest.MapFS {
	return fstest.MapFS{
		"0001_a.up.sql":   &fstest.MapFile{Data: []byte("create table a (id int);")},
		"0001_a.down.sql": &fstest.MapFile{Data: []byte("drop table a;")},
		"0002_b.up.sql":   &fstest.MapFile{Data: []byte("create table b (id int); create index b_idx on b (id);")},
		"notes.txt":       &fstest.MapFile{Data: []byte("ignored")},
	}
}

func expectEnsureTables(mock sqlmock.Sqlmock) {
	mock.ExpectExec("create table if not exists schema_migrations").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("create table if not exists schema_seeds").WillReturnResult(sqlmock.NewResult(0, 0))
}

func TestUpAppliesPendingInOrder(t *testing.T) {
	c := qt.New(t)
	db, mock, err := sqlmock.New()
	c.Assert(err, qt.IsNil)
	defer db.Close()

	expectEnsureTables(mock)
	mock.ExpectQuery("select name from schema_migrations").
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("0001_a.up.sql"))
	mock.ExpectBegin()
	mock.ExpectExec("create table b").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("create index b_idx").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()
	mock.ExpectExec("insert into schema_migrations").
		WithArgs("0002_b.up.sql", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	applied, err := NewManager(db, testFS(), nil).Up(context.Background())
	c.Assert(err, qt.IsNil)
	c.Assert(applied, qt.DeepEquals, []string{"0002_b.up.sql"})
	c.Assert(mock.ExpectationsWereMet(), qt.IsNil)
}

func TestDownRollsBackLatest(t *testing.T) {
	c := qt.New(t)
	db, mock, err := sqlmock.New()
	c.Assert(err, qt.IsNil)
	defer db.Close()

	expectEnsureTables(mock)
	mock.ExpectQuery("select name from schema_migrations order by applied_at").
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("0001_a.up.sql"))
	mock.ExpectBegin()
	mock.ExpectExec("drop table a").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()
	mock.ExpectExec("delete from schema_migrations where name").
		WithArgs("0001_a.up.sql").
		WillReturnResult(sqlmock.NewResult(0, 1))

	name, err := NewManager(db, testFS(), nil).Down(context.Background())
	c.Assert(err, qt.IsNil)
	c.Assert(name, qt.Equals, "0001_a.up.sql")
	c.Assert(mock.ExpectationsWereMet(), qt.IsNil)
}

func TestDownWithoutDownFile(t *testing.T) {
	c := qt.New(t)
	db, mock, err := sqlmock.New()
	c.Assert(err, qt.IsNil)
	defer db.Close()

	expectEnsureTables(mock)
	mock.ExpectQuery("select name from schema_migrations order by applied_at").
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("0002_b.up.sql"))

	_, err = NewManager(db, testFS(), nil).Down(context.Background())
	c.Assert(err, qt.ErrorMatches, "missing down migration for 0002_b.up.sql")
}

func TestDownNothingApplied(t *testing.T) {
	c := qt.New(t)
	db, mock, err := sqlmock.New()
	c.Assert(err, qt.IsNil)
	defer db.Close()

	expectEnsureTables(mock)
	mock.ExpectQuery("select name from schema_migrations").WillReturnRows(sqlmock.NewRows([]string{"name"}))

	_, err = NewManager(db, testFS(), nil).Down(context.Background())
	c.Assert(err, qt.ErrorIs, ErrNothingApplied)
}

func TestSplitStatements(t *testing.T) {
	c := qt.New(t)
	stmts := splitStatements("insert into t values ('a;b');\n-- it's a comment; still one\nselect 1;")
	c.Assert(stmts, qt.HasLen, 2)
	c.Assert(strings.TrimSpace(stmts[0]), qt.Equals, "insert into t values ('a;b');")
	c.Assert(strings.Contains(stmts[1], "select 1;"), qt.IsTrue)
}

func TestCollectSQLSkipsDownForSeeds(t *testing.T) {
	c := qt.New(t)
	files, err := collectSQL(testFS(), ".sql")
	c.Assert(err, qt.IsNil)
	c.Assert(files, qt.DeepEquals, []string{"0001_a.up.sql", "0002_b.up.sql"})

	files, err = collectSQL(nil, ".sql")
	c.Assert(err, qt.IsNil)
	c.Assert(files, qt.HasLen, 0)
}

func TestEmbeddedMigrationsArePaired(t *testing.T) {
	c := qt.New(t)
	ups, err := collectSQL(Migrations(), ".up.sql")
	c.Assert(err, qt.IsNil)
	c.Assert(len(ups) > 0, qt.IsTrue)
	for _, up := range ups {
		_, err := fs.Stat(Migrations(), strings.TrimSuffix(up, ".up.sql")+".down.sql")
		c.Assert(err, qt.IsNil, qt.Commentf("down file for %s", up))
	}
	seeds, err := collectSQL(Seeds(), ".sql")
	c.Assert(err, qt.IsNil)
	c.Assert(seeds, qt.DeepEquals, []string{"0001_billing_plans.sql"})
}
