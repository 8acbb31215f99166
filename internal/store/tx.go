package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Tx is a Conn bound to one open SQLite transaction.
type Tx struct {
	conn
	tx *sql.Tx
}

// RunInTx runs fn inside a transaction.
//
// The transaction commits when fn returns nil and rolls back when fn returns
// an error or panics; a panic is re-raised after the rollback. No return path
// leaves the transaction open. The error returned by fn is returned unchanged.
func (s *Store) RunInTx(ctx context.Context, fn func(Conn) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	committed := false
	defer func() {
		if committed {
			return
		}
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) && err != nil {
			err = fmt.Errorf("%w (rollback: %v)", err, rbErr)
		}
	}()

	if err := fn(&Tx{conn: conn{q: tx}, tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	committed = true
	return nil
}
