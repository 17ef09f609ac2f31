// Package pgxshared provides the single shared pgx connection pool manager
// used by both internal/cache and internal/repository (SPEC_FULL.md §4.7:
// "one connection pool is shared per (database, scheduler) pair").
package pgxshared

import (
	"context"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
)

type manager struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
	pools map[string]*pgxpool.Pool
}

var shared = &manager{
	locks: make(map[string]*sync.Mutex),
	pools: make(map[string]*pgxpool.Pool),
}

// Acquire returns the process-wide shared pool for dsn, opening it on first
// use. Construction is guarded by a per-DSN mutex so concurrent first
// callers don't each open their own pool; an idle or dead pool (failing
// Ping) is closed and transparently recreated.
func Acquire(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	keyLock := shared.keyLock(dsn)
	keyLock.Lock()
	defer keyLock.Unlock()

	if pool, ok := shared.existing(dsn); ok {
		if pool.Ping(ctx) == nil {
			return pool, nil
		}
		pool.Close()
		shared.forget(dsn)
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	shared.mu.Lock()
	shared.pools[dsn] = pool
	shared.mu.Unlock()
	return pool, nil
}

func (m *manager) keyLock(dsn string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[dsn]
	if !ok {
		l = &sync.Mutex{}
		m.locks[dsn] = l
	}
	return l
}

func (m *manager) existing(dsn string) (*pgxpool.Pool, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pool, ok := m.pools[dsn]
	return pool, ok
}

func (m *manager) forget(dsn string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pools, dsn)
}
