// Package txrunner provides the transactional boundary for mutations.
// Services run the record write and its audit append inside one Runner call;
// either both commit or neither does.
package txrunner

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"captrack/pkg/platform/tx"
)

// DefaultTimeout bounds one transaction. Mutations here are small (one row
// write plus one audit row); anything slower is a stuck connection.
const DefaultTimeout = 5 * time.Second

// Runner executes fn atomically. fn must be side-effect free outside the
// stores it writes through, so a rollback leaves no trace.
type Runner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Memory serializes mutations behind one mutex. In-memory stores cannot roll
// back, so fn implementations order their writes to fail before the first
// store touch; the mutex guarantees no interleaving between a record write
// and its audit append.
type Memory struct {
	mu sync.Mutex
}

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(ctx)
}

// Postgres opens a database transaction, threads it through the context for
// the stores to pick up, and commits only if fn succeeds.
type Postgres struct {
	db      *sql.DB
	timeout time.Duration
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db, timeout: DefaultTimeout}
}

func (p *Postgres) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	dbTx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if err := fn(tx.WithTx(ctx, dbTx)); err != nil {
		if rbErr := dbTx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
			return fmt.Errorf("rollback after %w: %v", err, rbErr)
		}
		return err
	}

	if err := dbTx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
