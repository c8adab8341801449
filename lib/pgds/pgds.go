// Package pgds is a go-datastore backed by a PostgreSQL table, so that
// several daemons can share one channel store.
package pgds

import (
	"context"
	"errors"

	ds "github.com/ipfs/go-datastore"
	"github.com/ipfs/go-datastore/query"
	logging "github.com/ipfs/go-log/v2"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/xerrors"
)

var log = logging.Logger("pgds")

type Datastore struct {
	pool  *pgxpool.Pool
	table string
}

var _ ds.Batching = (*Datastore)(nil)

// New connects to the database at connString and creates table if needed.
func New(ctx context.Context, connString, table string) (*Datastore, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, xerrors.Errorf("parsing connection string: %w", err)
	}
	cfg.ConnConfig.OnNotice = func(_ *pgconn.PgConn, n *pgconn.Notice) {
		log.Warnw("database notice", "message", n.Message, "detail", n.Detail)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, xerrors.Errorf("connecting to database: %w", err)
	}

	d := &Datastore{pool: pool, table: pgx.Identifier{table}.Sanitize()}
	if _, err := pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS `+d.table+` (
		key TEXT PRIMARY KEY,
		value BYTEA NOT NULL
	)`); err != nil {
		pool.Close()
		return nil, xerrors.Errorf("creating table %s: %w", table, err)
	}
	return d, nil
}

func (d *Datastore) Get(ctx context.Context, key ds.Key) ([]byte, error) {
	var value []byte
	err := d.pool.QueryRow(ctx, `SELECT value FROM `+d.table+` WHERE key = $1`, key.String()).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ds.ErrNotFound
	}
	return value, err
}

func (d *Datastore) Has(ctx context.Context, key ds.Key) (bool, error) {
	var exists bool
	err := d.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM `+d.table+` WHERE key = $1)`, key.String()).Scan(&exists)
	return exists, err
}

func (d *Datastore) GetSize(ctx context.Context, key ds.Key) (int, error) {
	var size int
	err := d.pool.QueryRow(ctx, `SELECT octet_length(value) FROM `+d.table+` WHERE key = $1`, key.String()).Scan(&size)
	if errors.Is(err, pgx.ErrNoRows) {
		return -1, ds.ErrNotFound
	}
	return size, err
}

// Query loads every row under the prefix and leaves filters, orders and
// limits to the go-datastore helpers.
func (d *Datastore) Query(ctx context.Context, q query.Query) (query.Results, error) {
	rows, err := d.pool.Query(ctx, `SELECT key, value FROM `+d.table+` WHERE starts_with(key, $1) ORDER BY key`, q.Prefix)
	if err != nil {
		return nil, xerrors.Errorf("querying %s: %w", q.Prefix, err)
	}
	defer rows.Close()

	var entries []query.Entry
	for rows.Next() {
		var e query.Entry
		if err := rows.Scan(&e.Key, &e.Value); err != nil {
			return nil, err
		}
		e.Size = len(e.Value)
		if q.KeysOnly {
			e.Value = nil
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return query.NaiveQueryApply(q, query.ResultsWithEntries(q, entries)), nil
}

func (d *Datastore) Put(ctx context.Context, key ds.Key, value []byte) error {
	_, err := d.pool.Exec(ctx, d.upsertSQL(), key.String(), value)
	return err
}

func (d *Datastore) Delete(ctx context.Context, key ds.Key) error {
	_, err := d.pool.Exec(ctx, `DELETE FROM `+d.table+` WHERE key = $1`, key.String())
	return err
}

func (d *Datastore) upsertSQL() string {
	return `INSERT INTO ` + d.table + ` (key, value) VALUES ($1, $2)
	ON CONFLICT (key) DO UPDATE SET value = excluded.value`
}

// Sync is a no-op: every write is committed before it returns.
func (d *Datastore) Sync(context.Context, ds.Key) error {
	return nil
}

func (d *Datastore) Close() error {
	d.pool.Close()
	return nil
}

func (d *Datastore) Batch(context.Context) (ds.Batch, error) {
	return &batch{d: d}, nil
}

type batchOp struct {
	key    string
	value  []byte
	delete bool
}

// batch applies its operations in one transaction on Commit.
type batch struct {
	d   *Datastore
	ops []batchOp
}

func (b *batch) Put(_ context.Context, key ds.Key, value []byte) error {
	b.ops = append(b.ops, batchOp{key: key.String(), value: value})
	return nil
}

func (b *batch) Delete(_ context.Context, key ds.Key) error {
	b.ops = append(b.ops, batchOp{key: key.String(), delete: true})
	return nil
}

func (b *batch) Commit(ctx context.Context) error {
	return pgx.BeginFunc(ctx, b.d.pool, func(tx pgx.Tx) error {
		pb := &pgx.Batch{}
		for _, op := range b.ops {
			if op.delete {
				pb.Queue(`DELETE FROM `+b.d.table+` WHERE key = $1`, op.key)
				continue
			}
			pb.Queue(b.d.upsertSQL(), op.key, op.value)
		}
		return tx.SendBatch(ctx, pb).Close()
	})
}
