//go:build integration

package sqlstore_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"strconv"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/mickamy/auditrail"
	"github.com/mickamy/auditrail/sqlstore"
)

type article struct {
	ID        int64       `audit:"id,pk"`
	Title     string      `audit:"title"`
	Body      string      `audit:"body"`
	Meta      articleMeta `audit:"meta,embed"`
	CreatedAt time.Time   `audit:"created_at"`
}

type articleMeta struct {
	Tags []string `audit:"tags"`
}

type PostgresStoreSuite struct {
	suite.Suite
	container *tcpostgres.PostgresContainer
	db        *sql.DB
	store     *sqlstore.Store
	rec       *auditrail.Recorder
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	ctx := context.Background()
	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("auditrail"),
		tcpostgres.WithUsername("auditrail"),
		tcpostgres.WithPassword("auditrail"),
		tcpostgres.BasicWaitStrategies(),
	)
	s.Require().NoError(err)
	s.container = container

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	s.Require().NoError(err)
	db, err := sql.Open("pgx", dsn)
	s.Require().NoError(err)
	s.db = db

	_, err = db.ExecContext(ctx, `
CREATE TABLE articles (
    id BIGSERIAL PRIMARY KEY,
    title TEXT NOT NULL DEFAULT '',
    body TEXT NOT NULL DEFAULT '',
    meta JSONB NOT NULL DEFAULT '{}',
    created_at TIMESTAMPTZ NOT NULL
)`)
	s.Require().NoError(err)
	s.Require().NoError(sqlstore.EnsureTable(ctx, db, auditrail.DefaultTableName))

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	s.store = sqlstore.New(db)
	s.rec = auditrail.New(s.store, auditrail.Config{Logger: logger})
}

func (s *PostgresStoreSuite) TearDownSuite() {
	if s.db != nil {
		_ = s.db.Close()
	}
	if s.container != nil {
		_ = testcontainers.TerminateContainer(s.container)
	}
}

func (s *PostgresStoreSuite) SetupTest() {
	_, err := s.db.ExecContext(context.Background(), `TRUNCATE articles, audit_logs`)
	s.Require().NoError(err)
}

func (s *PostgresStoreSuite) lastEntry() (actorID, resource, resourceID, changeType string, changeset map[string]any) {
	var doc []byte
	err := s.db.QueryRowContext(context.Background(), `
SELECT actor_id, resource, resource_id, changeset, change_type
FROM audit_logs ORDER BY id DESC LIMIT 1
`).Scan(&actorID, &resource, &resourceID, &doc, &changeType)
	s.Require().NoError(err)
	s.Require().NoError(json.Unmarshal(doc, &changeset))
	return
}

func (s *PostgresStoreSuite) countEntries() int {
	var n int
	err := s.db.QueryRowContext(context.Background(), `SELECT COUNT(*) FROM audit_logs`).Scan(&n)
	s.Require().NoError(err)
	return n
}

func (s *PostgresStoreSuite) TestInsertRoundTrip() {
	ctx := context.Background()
	cs := auditrail.Change(&article{CreatedAt: time.Now().UTC()}).
		Set("title", "hello").
		Set("meta", articleMeta{Tags: []string{"go"}})

	res, err := s.rec.Insert(ctx, "u1", cs)
	s.Require().NoError(err)
	s.Require().NoError(res.AuditErr)

	created := res.Entity.(*article)
	s.Positive(created.ID, "generated identifier must be materialized")
	s.Equal("hello", created.Title)

	actor, resource, resourceID, changeType, changeset := s.lastEntry()
	s.Equal("u1", actor)
	s.Equal("articles", resource)
	s.Equal(strconv.FormatInt(created.ID, 10), resourceID)
	s.Equal("insert", changeType)
	s.Equal("hello", changeset["title"])
	s.Equal(map[string]any{"tags": []any{"go"}}, changeset["meta"])
}

func (s *PostgresStoreSuite) TestUpdateWritesOnlyChangedFields() {
	ctx := context.Background()
	res, err := s.rec.Insert(ctx, "u1", auditrail.Change(&article{CreatedAt: time.Now().UTC()}).Set("title", "v1"))
	s.Require().NoError(err)
	created := res.Entity.(*article)

	res, err = s.rec.Update(ctx, "u1", auditrail.Change(created).Set("title", "v2"))
	s.Require().NoError(err)
	s.Equal("v2", res.Entity.(*article).Title)

	_, _, _, changeType, changeset := s.lastEntry()
	s.Equal("update", changeType)
	s.Equal(map[string]any{"title": "v2"}, changeset)
}

func (s *PostgresStoreSuite) TestEmptyUpdateRereadsRow() {
	ctx := context.Background()
	res, err := s.rec.Insert(ctx, "u1", auditrail.Change(&article{CreatedAt: time.Now().UTC()}).Set("title", "v1"))
	s.Require().NoError(err)
	created := res.Entity.(*article)

	// Drift the row behind the entity's back; the no-op update must still
	// come back with the database-side state.
	_, err = s.db.ExecContext(ctx, `UPDATE articles SET body = 'drifted' WHERE id = $1`, created.ID)
	s.Require().NoError(err)

	res, err = s.rec.Update(ctx, "u1", auditrail.Change(created))
	s.Require().NoError(err)
	s.Require().NoError(res.AuditErr)
	s.Equal("drifted", res.Entity.(*article).Body)

	_, _, _, changeType, changeset := s.lastEntry()
	s.Equal("update", changeType)
	s.Empty(changeset)
}

func (s *PostgresStoreSuite) TestDeleteSnapshots() {
	ctx := context.Background()
	res, err := s.rec.Insert(ctx, "u1", auditrail.Change(&article{CreatedAt: time.Now().UTC()}).Set("title", "gone"))
	s.Require().NoError(err)
	created := res.Entity.(*article)

	res, err = s.rec.Delete(ctx, "u1", created)
	s.Require().NoError(err)
	s.Require().NoError(res.AuditErr)

	var n int
	s.Require().NoError(s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM articles`).Scan(&n))
	s.Zero(n)

	_, _, _, changeType, changeset := s.lastEntry()
	s.Equal("delete", changeType)
	s.Equal("gone", changeset["title"])
}

func (s *PostgresStoreSuite) TestPrimaryFailureLeavesNoEntry() {
	ctx := context.Background()
	res, err := s.rec.Insert(ctx, "u1", auditrail.Change(&article{CreatedAt: time.Now().UTC()}).Set("title", "a"))
	s.Require().NoError(err)
	created := res.Entity.(*article)
	before := s.countEntries()

	// Reusing the generated identifier forces a primary key violation.
	dup := &article{ID: created.ID, CreatedAt: time.Now().UTC()}
	_, err = s.rec.Insert(ctx, "u1", auditrail.Change(dup).Set("title", "dup"))
	s.Require().ErrorIs(err, auditrail.ErrDuplicate)
	s.Equal(before, s.countEntries())
}

func (s *PostgresStoreSuite) TestAuditFailureDoesNotPoisonTransaction() {
	ctx := context.Background()
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	// A missing audit table makes every entry insert fail.
	rec := auditrail.New(s.store, auditrail.Config{TableName: "missing_audit", Logger: logger})

	res, err := rec.Insert(ctx, "u1", auditrail.Change(&article{CreatedAt: time.Now().UTC()}).Set("title", "kept"))
	s.Require().NoError(err, "audit failure must not fail the call")
	s.Require().Error(res.AuditErr)

	var n int
	s.Require().NoError(s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM articles WHERE title = 'kept'`).Scan(&n))
	s.Equal(1, n, "primary write must commit despite the audit failure")
	s.Zero(s.countEntries())
}
