// Package cache implements ResponseCache (C7): a relational,
// project-partitioned cache of request → prior response, backed by a
// shared pgx connection pool (SPEC_FULL.md §4.7).
package cache

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/acesanderson/conduit/internal/conduiterr"
	"github.com/acesanderson/conduit/internal/model"
	"github.com/acesanderson/conduit/internal/pgxshared"
	"github.com/acesanderson/conduit/internal/registry"
	"github.com/acesanderson/conduit/internal/request"
)

const schemaDDL = `
CREATE TABLE IF NOT EXISTS cache_entries (
	cache_name text NOT NULL,
	cache_key  text NOT NULL,
	payload    jsonb NOT NULL,
	created_at timestamptz NOT NULL DEFAULT now(),
	updated_at timestamptz NOT NULL DEFAULT now(),
	PRIMARY KEY (cache_name, cache_key)
)`

// Cache is a pgx-backed implementation of request.CacheHandle, partitioned
// by cache_name (the project name from ConduitOptions). Its connection pool
// is shared with every other Cache or Repository pointed at the same DSN,
// via internal/pgxshared.
type Cache struct {
	pool *pgxpool.Pool
	name string
	reg  *registry.Registry
}

// New opens (or reuses) the shared pool for dsn, ensures the cache_entries
// table exists, and returns a Cache scoped to name. reg resolves a request's
// model to its provider for cache-key computation (§4.4).
func New(ctx context.Context, dsn, name string, reg *registry.Registry) (*Cache, error) {
	pool, err := pgxshared.Acquire(ctx, dsn)
	if err != nil {
		return nil, conduiterr.Wrap(err, "cache: acquire pool")
	}
	c := &Cache{pool: pool, name: name, reg: reg}
	if _, err := pool.Exec(ctx, schemaDDL); err != nil {
		return nil, conduiterr.Wrap(err, "cache: ensure schema")
	}
	return c, nil
}

// entryPayload is the jsonb payload stored per cache row: the assistant
// reply plus its call metadata, re-hydrated against the looked-up Request.
type entryPayload struct {
	Message  json.RawMessage          `json:"message"`
	Metadata request.ResponseMetadata `json:"metadata"`
}

func (c *Cache) keyFor(req *request.Request) (string, error) {
	canonical, err := c.reg.Resolve(req.Params.Model)
	if err != nil {
		return "", err
	}
	provider, err := c.reg.ProviderOf(canonical)
	if err != nil {
		return "", err
	}
	return request.CacheKey(req, string(provider))
}

// Get looks up req's cached response. A cache miss is (nil, false, nil), not
// an error. Context is internal (context.Background()): the CacheHandle
// interface carries no per-call deadline, matching the teacher's own
// background-context pattern for fire-and-forget infra calls.
func (c *Cache) Get(req *request.Request) (*request.Response, bool, error) {
	key, err := c.keyFor(req)
	if err != nil {
		return nil, false, err
	}

	ctx := context.Background()
	var raw []byte
	err = c.pool.QueryRow(ctx,
		`SELECT payload FROM cache_entries WHERE cache_name = $1 AND cache_key = $2`,
		c.name, key,
	).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, conduiterr.Wrap(err, "cache: get")
	}

	var p entryPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, false, conduiterr.Wrap(err, "cache: decode payload")
	}
	msg, err := model.UnmarshalMessage(p.Message)
	if err != nil {
		return nil, false, conduiterr.Wrap(err, "cache: decode message")
	}
	assistant, ok := msg.(model.AssistantMessage)
	if !ok {
		return nil, false, conduiterr.New(conduiterr.ValidationError, "cache: stored message is not an assistant reply", nil)
	}

	metadata := p.Metadata
	metadata.CacheHit = true
	return &request.Response{Message: assistant, Request: req, Metadata: metadata}, true, nil
}

// Set upserts req's response, refreshing updated_at on an existing row
// (last-writer-wins per (cache_name, cache_key), per §9).
func (c *Cache) Set(req *request.Request, resp *request.Response) error {
	key, err := c.keyFor(req)
	if err != nil {
		return err
	}

	msgJSON, err := model.MarshalMessage(resp.Message)
	if err != nil {
		return conduiterr.Wrap(err, "cache: encode message")
	}
	payload, err := json.Marshal(entryPayload{Message: msgJSON, Metadata: resp.Metadata})
	if err != nil {
		return conduiterr.Wrap(err, "cache: encode payload")
	}

	ctx := context.Background()
	_, err = c.pool.Exec(ctx,
		`INSERT INTO cache_entries (cache_name, cache_key, payload)
		 VALUES ($1, $2, $3::jsonb)
		 ON CONFLICT (cache_name, cache_key)
		 DO UPDATE SET payload = EXCLUDED.payload, updated_at = now()`,
		c.name, key, payload,
	)
	if err != nil {
		return conduiterr.Wrap(err, "cache: set")
	}
	return nil
}

// Wipe deletes every entry in this cache's partition (project-scoped,
// per §4.8's parallel wipe semantics for the repository).
func (c *Cache) Wipe() error {
	ctx := context.Background()
	_, err := c.pool.Exec(ctx, `DELETE FROM cache_entries WHERE cache_name = $1`, c.name)
	if err != nil {
		return conduiterr.Wrap(err, "cache: wipe")
	}
	return nil
}

// Stats is the optional stats() surface from §4.7, not part of
// request.CacheHandle (the pipeline never calls it) but exposed for
// operator tooling.
type Stats struct {
	CacheName     string
	TotalEntries  int64
	TotalBytes    int64
	OldestRecord  *string
	LatestRecord  *string
}

func (c *Cache) Stats() (Stats, error) {
	ctx := context.Background()
	var s Stats
	s.CacheName = c.name
	err := c.pool.QueryRow(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(pg_column_size(payload)), 0),
			to_char(MIN(created_at), 'YYYY-MM-DD'),
			to_char(MAX(updated_at), 'YYYY-MM-DD')
		FROM cache_entries
		WHERE cache_name = $1
	`, c.name).Scan(&s.TotalEntries, &s.TotalBytes, &s.OldestRecord, &s.LatestRecord)
	if err != nil {
		return Stats{}, conduiterr.Wrap(err, "cache: stats")
	}
	return s, nil
}

var _ request.CacheHandle = (*Cache)(nil)
