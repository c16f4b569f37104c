package manytomorph

import (
	"context"
	"database/sql"

	"github.com/rezakhademix/manytomorph/internal/logging"
)

// Tx wraps sql.Tx so relation writes can join a caller-managed transaction.
type Tx struct {
	Tx  *sql.Tx
	ctx context.Context
}

// Context returns the context the transaction was started with.
func (t *Tx) Context() context.Context {
	return t.ctx
}

// Transaction executes fn within a transaction on db, falling back to GlobalDB.
// The transaction is rolled back when fn returns an error or panics.
func Transaction(ctx context.Context, db *sql.DB, fn func(tx *Tx) error) error {
	if db == nil {
		db = GlobalDB
	}
	if db == nil {
		return ErrNoQueryer
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	mTx := &Tx{Tx: tx, ctx: ctx}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(mTx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			logging.Error().Err(rbErr).Msg("transaction rollback failed")
		} else {
			logging.Debug().Err(err).Msg("transaction rolled back")
		}
		return err
	}

	return tx.Commit()
}

// WithTx routes every query of the relation through tx.
func (r *ManyToMorph) WithTx(tx *Tx) *ManyToMorph {
	if tx != nil {
		r.tx = tx.Tx
	}
	return r
}
