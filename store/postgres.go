package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"iter"
	"slices"
	"strconv"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/sealrelay/event"
	"github.com/opd-ai/sealrelay/filter"
	"github.com/opd-ai/sealrelay/interfaces"
)

// DBTX is the subset of database/sql the store runs statements through.
// Both *sql.DB and *sql.Tx satisfy it.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Postgres is a Store backed by PostgreSQL.
type Postgres struct {
	db         *sql.DB
	queryLimit int
}

var _ interfaces.Store = (*Postgres)(nil)

// gooseUpContext is a seam for testing goose.UpContext.
var gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

// OpenPostgres connects to dsn through the pgx driver, checks the
// connection and applies pending migrations.
func OpenPostgres(ctx context.Context, dsn string, queryLimit int) (*Postgres, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("db open error: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("db ping error: %w", err)
	}
	p := NewPostgres(db, queryLimit)
	if err := p.Migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migration error: %w", err)
	}
	logrus.WithFields(logrus.Fields{
		"function":    "OpenPostgres",
		"query_limit": queryLimit,
	}).Info("Connected to PostgreSQL event store")
	return p, nil
}

// NewPostgres wraps an open database. The schema is not touched.
func NewPostgres(db *sql.DB, queryLimit int) *Postgres {
	return &Postgres{db: db, queryLimit: queryLimit}
}

// Migrate applies the embedded migrations.
func (p *Postgres) Migrate(ctx context.Context) error {
	goose.SetBaseFS(Migrations)
	if err := goose.SetDialect("pgx"); err != nil {
		return err
	}
	return gooseUpContext(ctx, p.db, "migrations")
}

// Close closes the database.
func (p *Postgres) Close() error {
	return p.db.Close()
}

const insertEvent = `INSERT INTO events (id, pubkey, created_at, kind, tags, content, sig)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (id) DO NOTHING`

// Save implements interfaces.Store. The event row and its tag index are
// written in one transaction.
func (p *Postgres) Save(ctx context.Context, ev *event.Event) (bool, error) {
	tags := ev.Tags
	if tags == nil {
		tags = event.Tags{}
	}
	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return false, fmt.Errorf("encode tags: %w", err)
	}

	stored := false
	err = withTx(ctx, p.db, func(ctx context.Context, tx DBTX) error {
		res, err := tx.ExecContext(ctx, insertEvent,
			ev.ID, ev.PubKey, ev.CreatedAt, ev.Kind, tagsJSON, ev.Content, ev.Sig)
		if err != nil {
			return fmt.Errorf("db error: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("db error: %w", err)
		}
		if n == 0 {
			return nil
		}
		stored = true
		return insertTags(ctx, tx, ev.ID, tags)
	})
	if err != nil {
		return false, err
	}
	logrus.WithFields(logrus.Fields{
		"function":        "Postgres.Save",
		"event_id_prefix": idPrefix(ev.ID),
		"stored":          stored,
	}).Debug("Saved event")
	return stored, nil
}

// insertTags indexes every tag with a value under its name.
func insertTags(ctx context.Context, tx DBTX, id string, tags event.Tags) error {
	var sb strings.Builder
	args := []any{id}
	for _, t := range tags {
		if len(t) < 2 {
			continue
		}
		if len(args) > 1 {
			sb.WriteString(", ")
		}
		n := len(args)
		fmt.Fprintf(&sb, "($1, $%d, $%d)", n+1, n+2)
		args = append(args, t[0], t[1])
	}
	if len(args) == 1 {
		return nil
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO event_tags (event_id, name, value) VALUES "+sb.String(), args...); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// withTx runs fn in a transaction, committing on success and rolling back
// on error or panic.
func withTx(ctx context.Context, db *sql.DB, fn func(ctx context.Context, tx DBTX) error) (err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	defer func() {
		if r := recover(); r != nil {
			_ = tx.Rollback()
			panic(r)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		if cerr := tx.Commit(); cerr != nil {
			err = fmt.Errorf("db error: %w", cerr)
		}
	}()
	return fn(ctx, tx)
}

// Query implements interfaces.Store. One statement runs per filter and the
// results are merged.
func (p *Postgres) Query(ctx context.Context, filters filter.Filters) iter.Seq2[*event.Event, error] {
	return func(yield func(*event.Event, error) bool) {
		capN := queryLimit(p.queryLimit)
		batches := make([][]*event.Event, 0, len(filters))
		for i := range filters {
			query, args, ok := buildQuery(&filters[i], capN)
			if !ok {
				continue
			}
			batch, err := p.fetch(ctx, query, args)
			if err != nil {
				yield(nil, err)
				return
			}
			batches = append(batches, batch)
		}
		for _, ev := range mergeResults(batches...) {
			if !yield(ev, nil) {
				return
			}
		}
	}
}

func (p *Postgres) fetch(ctx context.Context, query string, args []any) ([]*event.Event, error) {
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var out []*event.Event
	for rows.Next() {
		var (
			ev       event.Event
			tagsJSON []byte
		)
		if err := rows.Scan(&ev.ID, &ev.PubKey, &ev.CreatedAt, &ev.Kind, &tagsJSON, &ev.Content, &ev.Sig); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		if err := json.Unmarshal(tagsJSON, &ev.Tags); err != nil {
			return nil, fmt.Errorf("decode tags of %s: %w", idPrefix(ev.ID), err)
		}
		if ev.Tags == nil {
			ev.Tags = event.Tags{}
		}
		out = append(out, &ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return out, nil
}

const selectEvents = `SELECT id, pubkey, created_at, kind, tags, content, sig FROM events`

// queryBuilder collects WHERE clauses with numbered placeholders.
type queryBuilder struct {
	where []string
	args  []any
}

func (b *queryBuilder) arg(v any) string {
	b.args = append(b.args, v)
	return "$" + strconv.Itoa(len(b.args))
}

func (b *queryBuilder) in(column string, values []any) {
	ph := make([]string, len(values))
	for i, v := range values {
		ph[i] = b.arg(v)
	}
	b.where = append(b.where, column+" IN ("+strings.Join(ph, ", ")+")")
}

// buildQuery translates one filter. It reports false when the filter can
// match nothing, so no statement is needed.
func buildQuery(f *filter.Filter, capN int) (string, []any, bool) {
	limit := f.EffectiveLimit(capN)
	if limit == 0 {
		return "", nil, false
	}
	b := &queryBuilder{}

	if f.IDs != nil {
		if f.IDs.Cardinality() == 0 {
			return "", nil, false
		}
		b.in("id", sortedStrings(f.IDs.ToSlice()))
	}
	if f.Authors != nil {
		if f.Authors.Cardinality() == 0 {
			return "", nil, false
		}
		b.in("pubkey", sortedStrings(f.Authors.ToSlice()))
	}
	if f.Kinds != nil {
		if f.Kinds.Cardinality() == 0 {
			return "", nil, false
		}
		kinds := f.Kinds.ToSlice()
		slices.Sort(kinds)
		vals := make([]any, len(kinds))
		for i, k := range kinds {
			vals[i] = k
		}
		b.in("kind", vals)
	}
	if f.Since != nil {
		b.where = append(b.where, "created_at >= "+b.arg(*f.Since))
	}
	if f.Until != nil {
		b.where = append(b.where, "created_at <= "+b.arg(*f.Until))
	}

	names := make([]string, 0, len(f.Tags))
	for name := range f.Tags {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		values := f.Tags[name]
		if values == nil {
			continue
		}
		if values.Cardinality() == 0 {
			return "", nil, false
		}
		sub := &queryBuilder{args: b.args}
		nameArg := sub.arg(name)
		sub.in("t.value", sortedStrings(values.ToSlice()))
		b.args = sub.args
		b.where = append(b.where, "EXISTS (SELECT 1 FROM event_tags t WHERE t.event_id = events.id AND t.name = "+
			nameArg+" AND "+sub.where[0]+")")
	}

	var sb strings.Builder
	sb.WriteString(selectEvents)
	if len(b.where) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(b.where, " AND "))
	}
	sb.WriteString(" ORDER BY created_at DESC, id ASC LIMIT ")
	sb.WriteString(b.arg(limit))
	return sb.String(), b.args, true
}

func sortedStrings(values []string) []any {
	slices.Sort(values)
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}
