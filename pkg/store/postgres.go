package store

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/teslashibe/go-callbridge/pkg/inference"
)

//go:embed schema.sql
var schema string

// Postgres is a ledger backed by a pgx connection pool.
type Postgres struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects to url and applies the schema.
func OpenPostgres(ctx context.Context, url string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("store: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: apply schema: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

// StartCall inserts the call, or refreshes the stream id of a known one.
func (p *Postgres) StartCall(ctx context.Context, callSid, streamSid string) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO calls (id, call_sid, stream_sid)
		VALUES ($1, $2, $3)
		ON CONFLICT (call_sid) DO UPDATE SET stream_sid = EXCLUDED.stream_sid`,
		uuid.New(), callSid, streamSid)
	if err != nil {
		return fmt.Errorf("store: start call %s: %w", callSid, err)
	}
	return nil
}

// FinishCall stores the transcript and marks the call ended.
func (p *Postgres) FinishCall(ctx context.Context, callSid string, transcript []inference.Message) error {
	if transcript == nil {
		transcript = []inference.Message{}
	}
	data, err := json.Marshal(transcript)
	if err != nil {
		return fmt.Errorf("store: encode transcript: %w", err)
	}
	_, err = p.pool.Exec(ctx, `
		INSERT INTO calls (id, call_sid, ended_at, transcript)
		VALUES ($1, $2, now(), $3)
		ON CONFLICT (call_sid) DO UPDATE SET ended_at = now(), transcript = EXCLUDED.transcript`,
		uuid.New(), callSid, data)
	if err != nil {
		return fmt.Errorf("store: finish call %s: %w", callSid, err)
	}
	return nil
}

const selectCall = `SELECT id, call_sid, stream_sid, started_at, ended_at, transcript FROM calls`

// Get returns one call by sid.
func (p *Postgres) Get(ctx context.Context, callSid string) (*Call, error) {
	row := p.pool.QueryRow(ctx, selectCall+` WHERE call_sid = $1`, callSid)
	c, err := scanCall(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get call %s: %w", callSid, err)
	}
	return c, nil
}

// List returns calls newest first.
func (p *Postgres) List(ctx context.Context, limit int) ([]Call, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := p.pool.Query(ctx, selectCall+` ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list calls: %w", err)
	}
	defer rows.Close()

	var out []Call
	for rows.Next() {
		c, err := scanCall(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan call: %w", err)
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// Close releases the pool.
func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

func scanCall(row pgx.Row) (*Call, error) {
	var (
		c    Call
		data []byte
	)
	if err := row.Scan(&c.ID, &c.CallSid, &c.StreamSid, &c.StartedAt, &c.EndedAt, &data); err != nil {
		return nil, err
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &c.Transcript); err != nil {
			return nil, err
		}
	}
	return &c, nil
}
