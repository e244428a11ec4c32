package store

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/pressly/goose/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/sealrelay/event"
	"github.com/opd-ai/sealrelay/filter"
)

func newMockStore(t *testing.T, queryLimit int) (*Postgres, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPostgres(db, queryLimit), mock
}

var eventColumns = []string{"id", "pubkey", "created_at", "kind", "tags", "content", "sig"}

func addRow(rows *sqlmock.Rows, ev *event.Event, tagsJSON string) *sqlmock.Rows {
	return rows.AddRow(ev.ID, ev.PubKey, ev.CreatedAt, int64(ev.Kind), []byte(tagsJSON), ev.Content, ev.Sig)
}

func TestPostgresSave(t *testing.T) {
	p, mock := newMockStore(t, 0)
	ev := testEvent(1, 100, 1, event.Tag{"t", "go"}, event.Tag{"e", hexID(7), "wss://relay"}, event.Tag{"solo"})

	mock.ExpectBegin()
	mock.ExpectExec(insertEvent).
		WithArgs(ev.ID, ev.PubKey, int64(100), int64(1),
			[]byte(`[["t","go"],["e","`+hexID(7)+`","wss://relay"],["solo"]]`), ev.Content, ev.Sig).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO event_tags (event_id, name, value) VALUES ($1, $2, $3), ($1, $4, $5)").
		WithArgs(ev.ID, "t", "go", "e", hexID(7)).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	ok, err := p.Save(context.Background(), ev)
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSaveDuplicate(t *testing.T) {
	p, mock := newMockStore(t, 0)
	ev := testEvent(1, 100, 1, event.Tag{"t", "go"})

	mock.ExpectBegin()
	mock.ExpectExec(insertEvent).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	ok, err := p.Save(context.Background(), ev)
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSaveWithoutTags(t *testing.T) {
	p, mock := newMockStore(t, 0)
	ev := testEvent(1, 100, 1)

	mock.ExpectBegin()
	mock.ExpectExec(insertEvent).
		WithArgs(ev.ID, ev.PubKey, int64(100), int64(1), []byte(`[]`), ev.Content, ev.Sig).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	ok, err := p.Save(context.Background(), ev)
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSaveErrors(t *testing.T) {
	t.Run("begin", func(t *testing.T) {
		p, mock := newMockStore(t, 0)
		mock.ExpectBegin().WillReturnError(errors.New("no connection"))
		_, err := p.Save(context.Background(), testEvent(1, 1, 1))
		assert.ErrorContains(t, err, "db error: no connection")
	})
	t.Run("insert", func(t *testing.T) {
		p, mock := newMockStore(t, 0)
		mock.ExpectBegin()
		mock.ExpectExec(insertEvent).WillReturnError(errors.New("disk full"))
		mock.ExpectRollback()
		_, err := p.Save(context.Background(), testEvent(1, 1, 1))
		assert.ErrorContains(t, err, "disk full")
		require.NoError(t, mock.ExpectationsWereMet())
	})
	t.Run("tags", func(t *testing.T) {
		p, mock := newMockStore(t, 0)
		mock.ExpectBegin()
		mock.ExpectExec(insertEvent).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("INSERT INTO event_tags (event_id, name, value) VALUES ($1, $2, $3)").
			WillReturnError(errors.New("constraint"))
		mock.ExpectRollback()
		ok, err := p.Save(context.Background(), testEvent(1, 1, 1, event.Tag{"p", "x"}))
		assert.False(t, ok)
		assert.ErrorContains(t, err, "constraint")
		require.NoError(t, mock.ExpectationsWereMet())
	})
	t.Run("commit", func(t *testing.T) {
		p, mock := newMockStore(t, 0)
		mock.ExpectBegin()
		mock.ExpectExec(insertEvent).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit().WillReturnError(errors.New("serialization failure"))
		ok, err := p.Save(context.Background(), testEvent(1, 1, 1))
		assert.False(t, ok)
		assert.ErrorContains(t, err, "serialization failure")
	})
}

func TestBuildQuery(t *testing.T) {
	tests := []struct {
		name   string
		filter *filter.Filter
		sql    string
		args   []any
		ok     bool
	}{
		{
			name:   "unconstrained",
			filter: filter.New(),
			sql:    selectEvents + " ORDER BY created_at DESC, id ASC LIMIT $1",
			args:   []any{100},
			ok:     true,
		},
		{
			name:   "all constraints",
			filter: filter.New().WithAuthors("bb", "aa").WithKinds(1059, 1).WithSince(10).WithUntil(20).WithLimit(5),
			sql: selectEvents + " WHERE pubkey IN ($1, $2) AND kind IN ($3, $4) AND created_at >= $5" +
				" AND created_at <= $6 ORDER BY created_at DESC, id ASC LIMIT $7",
			args: []any{"aa", "bb", 1, 1059, int64(10), int64(20), 5},
			ok:   true,
		},
		{
			name:   "ids and tags",
			filter: filter.New().WithIDs("x").WithTag("t", "go").WithTag("p", "bob", "alice"),
			sql: selectEvents + " WHERE id IN ($1)" +
				" AND EXISTS (SELECT 1 FROM event_tags t WHERE t.event_id = events.id AND t.name = $2 AND t.value IN ($3, $4))" +
				" AND EXISTS (SELECT 1 FROM event_tags t WHERE t.event_id = events.id AND t.name = $5 AND t.value IN ($6))" +
				" ORDER BY created_at DESC, id ASC LIMIT $7",
			args: []any{"x", "p", "alice", "bob", "t", "go", 100},
			ok:   true,
		},
		{name: "limit capped", filter: filter.New().WithLimit(1000),
			sql: selectEvents + " ORDER BY created_at DESC, id ASC LIMIT $1", args: []any{100}, ok: true},
		{name: "limit zero", filter: filter.New().WithLimit(0)},
		{name: "empty ids", filter: filter.New().WithIDs()},
		{name: "empty authors", filter: filter.New().WithAuthors()},
		{name: "empty kinds", filter: filter.New().WithKinds()},
		{name: "empty tag values", filter: filter.New().WithTag("p")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sql, args, ok := buildQuery(tt.filter, 100)
			assert.Equal(t, tt.ok, ok)
			if !tt.ok {
				return
			}
			assert.Equal(t, tt.sql, sql)
			assert.Equal(t, tt.args, args)
		})
	}
}

func TestPostgresQuery(t *testing.T) {
	p, mock := newMockStore(t, 50)
	older := testEvent(1, 100, 1, event.Tag{"t", "go"})
	newer := testEvent(2, 200, 1)
	wrap := testEvent(3, 150, 1059)

	q1, _, _ := buildQuery(filter.New().WithKinds(1), 50)
	q2, _, _ := buildQuery(filter.New().WithKinds(1059), 50)
	mock.ExpectQuery(q1).WithArgs(1, 50).
		WillReturnRows(addRow(addRow(sqlmock.NewRows(eventColumns), newer, `[]`), older, `[["t","go"]]`))
	mock.ExpectQuery(q2).WithArgs(1059, 50).
		WillReturnRows(addRow(sqlmock.NewRows(eventColumns), wrap, `[]`))

	var got []*event.Event
	for ev, err := range p.Query(context.Background(), filter.Filters{
		*filter.New().WithKinds(1),
		*filter.New().WithKinds(1059),
		*filter.New().WithLimit(0),
	}) {
		require.NoError(t, err)
		got = append(got, ev)
	}
	require.Len(t, got, 3)
	assert.Equal(t, []string{newer.ID, wrap.ID, older.ID}, []string{got[0].ID, got[1].ID, got[2].ID})
	assert.Equal(t, older, got[2])
	assert.Equal(t, event.Tags{}, got[0].Tags)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresQueryErrors(t *testing.T) {
	t.Run("query", func(t *testing.T) {
		p, mock := newMockStore(t, 0)
		mock.ExpectQuery(selectEvents + " ORDER BY created_at DESC, id ASC LIMIT $1").
			WillReturnError(errors.New("timeout"))
		var errs []error
		for ev, err := range p.Query(context.Background(), filter.Filters{*filter.New()}) {
			assert.Nil(t, ev)
			errs = append(errs, err)
		}
		require.Len(t, errs, 1)
		assert.ErrorContains(t, errs[0], "db error: timeout")
	})
	t.Run("bad tags", func(t *testing.T) {
		p, mock := newMockStore(t, 0)
		mock.ExpectQuery(selectEvents + " ORDER BY created_at DESC, id ASC LIMIT $1").
			WillReturnRows(addRow(sqlmock.NewRows(eventColumns), testEvent(1, 1, 1), `{`))
		var gotErr error
		for _, err := range p.Query(context.Background(), filter.Filters{*filter.New()}) {
			gotErr = err
		}
		assert.ErrorContains(t, gotErr, "decode tags")
	})
}

func TestPostgresMigrate(t *testing.T) {
	p, _ := newMockStore(t, 0)
	orig := gooseUpContext
	defer func() { gooseUpContext = orig }()

	var dir string
	gooseUpContext = func(_ context.Context, _ *sql.DB, d string, _ ...goose.OptionsFunc) error {
		dir = d
		return nil
	}
	require.NoError(t, p.Migrate(context.Background()))
	assert.Equal(t, "migrations", dir)

	gooseUpContext = func(context.Context, *sql.DB, string, ...goose.OptionsFunc) error {
		return errors.New("boom")
	}
	assert.EqualError(t, p.Migrate(context.Background()), "boom")
}

func TestMigrationsEmbedded(t *testing.T) {
	entries, err := Migrations.ReadDir("migrations")
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.Equal(t, []string{"00001_create_events.sql", "00002_create_event_tags.sql"}, names)
}
