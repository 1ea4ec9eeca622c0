package repository

import (
	"context"
	"fmt"
	"regexp"

	"github.com/jmoiron/sqlx"
)

var savepointName = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,62}$`)

// TxManager scopes one logical engine operation to one database transaction.
type TxManager struct {
	db *sqlx.DB
}

// NewTxManager constructs the transaction manager.
func NewTxManager(db *sqlx.DB) *TxManager {
	return &TxManager{db: db}
}

// WithinTx runs fn inside a transaction, committing when fn returns nil and
// rolling back otherwise (including on panic).
func (m *TxManager) WithinTx(ctx context.Context, fn func(tx *sqlx.Tx) error) (err error) {
	tx, err := m.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err = fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Savepoint marks a point the transaction can partially roll back to.
func Savepoint(ctx context.Context, tx sqlx.ExecerContext, name string) error {
	if !savepointName.MatchString(name) {
		return fmt.Errorf("invalid savepoint name %q", name)
	}
	if _, err := tx.ExecContext(ctx, "SAVEPOINT "+name); err != nil {
		return fmt.Errorf("savepoint %s: %w", name, err)
	}
	return nil
}

// RollbackToSavepoint discards work done after the named savepoint.
func RollbackToSavepoint(ctx context.Context, tx sqlx.ExecerContext, name string) error {
	if !savepointName.MatchString(name) {
		return fmt.Errorf("invalid savepoint name %q", name)
	}
	if _, err := tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+name); err != nil {
		return fmt.Errorf("rollback to savepoint %s: %w", name, err)
	}
	return nil
}

// ReleaseSavepoint forgets the named savepoint, keeping its work.
func ReleaseSavepoint(ctx context.Context, tx sqlx.ExecerContext, name string) error {
	if !savepointName.MatchString(name) {
		return fmt.Errorf("invalid savepoint name %q", name)
	}
	if _, err := tx.ExecContext(ctx, "RELEASE SAVEPOINT "+name); err != nil {
		return fmt.Errorf("release savepoint %s: %w", name, err)
	}
	return nil
}
