package storage

import (
	"fmt"
	"time"

	"gorm.io/gorm"
)

// Pool sizes the ledger's database/sql pool. Zero durations mean no limit.
type Pool struct {
	Conns    int
	Idle     int
	Lifetime time.Duration
	IdleTime time.Duration
}

// ServerPool is applied to PostgreSQL ledgers. A run issues only a few
// statements, at its start and end, so the pool stays small.
func ServerPool() Pool {
	return Pool{Conns: 4, Idle: 1, Lifetime: 30 * time.Minute, IdleTime: 5 * time.Minute}
}

// FilePool is applied to SQLite ledgers: one connection that is never
// recycled. SQLite admits a single writer, and a ":memory:" database is
// dropped together with its last connection.
func FilePool() Pool {
	return Pool{Conns: 1, Idle: 1}
}

// PoolOption adjusts a Pool after the dialect preset is chosen.
type PoolOption interface {
	applyPool(*Pool)
}

type poolOptionFunc func(*Pool)

func (f poolOptionFunc) applyPool(p *Pool) { f(p) }

// Conns caps open connections. Idle connections are capped to match when
// they would exceed it.
func Conns(n int) PoolOption {
	return poolOptionFunc(func(p *Pool) {
		p.Conns = n
		if p.Idle > n {
			p.Idle = n
		}
	})
}

// IdleConns caps idle connections.
func IdleConns(n int) PoolOption {
	return poolOptionFunc(func(p *Pool) { p.Idle = n })
}

// Lifetime recycles connections older than d.
func Lifetime(d time.Duration) PoolOption {
	return poolOptionFunc(func(p *Pool) { p.Lifetime = d })
}

// IdleTimeout closes connections idle for longer than d.
func IdleTimeout(d time.Duration) PoolOption {
	return poolOptionFunc(func(p *Pool) { p.IdleTime = d })
}

// apply configures db from base with opts layered on top.
func (p Pool) apply(db *gorm.DB, opts ...PoolOption) (Pool, error) {
	for _, opt := range opts {
		opt.applyPool(&p)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return p, fmt.Errorf("badc: ledger pool: %w", err)
	}
	sqlDB.SetMaxOpenConns(p.Conns)
	sqlDB.SetMaxIdleConns(p.Idle)
	sqlDB.SetConnMaxLifetime(p.Lifetime)
	sqlDB.SetConnMaxIdleTime(p.IdleTime)
	return p, nil
}
