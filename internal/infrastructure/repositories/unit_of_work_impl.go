package repositories

import (
	"context"
	"fmt"

	domainRepos "escrow-pay.backend/internal/domain/repositories"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type contextKey string

const (
	txKey   contextKey = "tx_db"
	lockKey contextKey = "tx_lock"
)

// txState is the transaction carried in the context together with the
// callbacks waiting for its commit.
type txState struct {
	tx          *gorm.DB
	afterCommit []func()
}

var commitTx = func(tx *gorm.DB) error {
	return tx.Commit().Error
}

// UnitOfWorkImpl implements UnitOfWork using GORM
type UnitOfWorkImpl struct {
	db *gorm.DB
}

// NewUnitOfWork creates a new UnitOfWork
func NewUnitOfWork(db *gorm.DB) domainRepos.UnitOfWork {
	return &UnitOfWorkImpl{db: db}
}

// Do executes the given function within a transaction scope
func (u *UnitOfWorkImpl) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey).(*txState); ok {
		return fn(ctx)
	}

	tx := u.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return fmt.Errorf("failed to begin transaction: %w", tx.Error)
	}

	state := &txState{tx: tx}
	txCtx := context.WithValue(ctx, txKey, state)

	if err := fn(txCtx); err != nil {
		tx.Rollback()
		return err
	}

	if err := commitTx(tx); err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	for _, cb := range state.afterCommit {
		cb()
	}
	return nil
}

// WithLock marks subsequent reads in ctx as SELECT ... FOR UPDATE
func (u *UnitOfWorkImpl) WithLock(ctx context.Context) context.Context {
	return context.WithValue(ctx, lockKey, true)
}

// AfterCommit defers fn until the surrounding transaction commits
func (u *UnitOfWorkImpl) AfterCommit(ctx context.Context, fn func()) {
	if state, ok := ctx.Value(txKey).(*txState); ok {
		state.afterCommit = append(state.afterCommit, fn)
		return
	}
	fn()
}

// GetDB returns the transaction in ctx, or the base DB
func (u *UnitOfWorkImpl) GetDB(ctx context.Context) *gorm.DB {
	return GetDB(ctx, u.db)
}

// GetDB is the helper repositories in this package use to join the ambient
// transaction.
func GetDB(ctx context.Context, fallback *gorm.DB) *gorm.DB {
	if state, ok := ctx.Value(txKey).(*txState); ok {
		return state.tx
	}
	return fallback
}

// readDB is GetDB plus a row lock when the context asks for one.
func readDB(ctx context.Context, fallback *gorm.DB) *gorm.DB {
	db := GetDB(ctx, fallback).WithContext(ctx)
	if locked, _ := ctx.Value(lockKey).(bool); locked {
		db = db.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return db
}
