package repositories

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func insertRetryRow(ctx context.Context, db *gorm.DB) error {
	return GetDB(ctx, db).WithContext(ctx).Exec(
		"INSERT INTO retry_queue_entries(id,type,data,max_retries,status) VALUES (?,?,?,?,?)",
		uuid.New().String(), "PaymentConfirmed", "{}", 5, "pending").Error
}

func countRetryRows(t *testing.T, db *gorm.DB) int64 {
	var count int64
	require.NoError(t, db.Table("retry_queue_entries").Count(&count).Error)
	return count
}

func TestUnitOfWork_DoCommitAndRollback(t *testing.T) {
	db := newTestDB(t)
	createRetryQueueTable(t, db)
	u := &UnitOfWorkImpl{db: db}

	err := u.Do(context.Background(), func(ctx context.Context) error {
		return insertRetryRow(ctx, db)
	})
	require.NoError(t, err)
	require.Equal(t, int64(1), countRetryRows(t, db))

	err = u.Do(context.Background(), func(ctx context.Context) error {
		if err := insertRetryRow(ctx, db); err != nil {
			return err
		}
		return errors.New("force rollback")
	})
	require.Error(t, err)
	require.Equal(t, int64(1), countRetryRows(t, db), "second insert must be rolled back")
}

func TestUnitOfWork_NestedDoJoinsOuterTransaction(t *testing.T) {
	db := newTestDB(t)
	createRetryQueueTable(t, db)
	u := &UnitOfWorkImpl{db: db}

	err := u.Do(context.Background(), func(ctx context.Context) error {
		outer := GetDB(ctx, db)
		return u.Do(ctx, func(inner context.Context) error {
			require.Same(t, outer, GetDB(inner, db))
			if err := insertRetryRow(inner, db); err != nil {
				return err
			}
			return errors.New("inner failure")
		})
	})
	require.Error(t, err)
	require.Equal(t, int64(0), countRetryRows(t, db))
}

func TestUnitOfWork_AfterCommit(t *testing.T) {
	db := newTestDB(t)
	createRetryQueueTable(t, db)
	u := &UnitOfWorkImpl{db: db}

	var fired []string
	err := u.Do(context.Background(), func(ctx context.Context) error {
		u.AfterCommit(ctx, func() { fired = append(fired, "outer") })
		return u.Do(ctx, func(inner context.Context) error {
			u.AfterCommit(inner, func() { fired = append(fired, "inner") })
			require.Empty(t, fired, "callbacks wait for the outermost commit")
			return nil
		})
	})
	require.NoError(t, err)
	require.Equal(t, []string{"outer", "inner"}, fired)

	fired = nil
	err = u.Do(context.Background(), func(ctx context.Context) error {
		u.AfterCommit(ctx, func() { fired = append(fired, "dropped") })
		return errors.New("rollback")
	})
	require.Error(t, err)
	require.Empty(t, fired)

	u.AfterCommit(context.Background(), func() { fired = append(fired, "immediate") })
	require.Equal(t, []string{"immediate"}, fired)
}

func TestUnitOfWork_WithLockAndGetDB(t *testing.T) {
	db := newTestDB(t)
	createRetryQueueTable(t, db)
	u := &UnitOfWorkImpl{db: db}

	ctx := u.WithLock(context.Background())
	require.NotNil(t, readDB(ctx, db))
	require.Equal(t, db, u.GetDB(context.Background()))

	// sqlite drops FOR UPDATE, so a locked read still succeeds
	repo := NewRetryQueueRepository(db)
	_, err := repo.GetByID(ctx, uuid.New())
	require.Error(t, err)
}

func TestUnitOfWork_DoBeginFailure(t *testing.T) {
	db := newTestDB(t)
	u := &UnitOfWorkImpl{db: db}

	sqlDB, err := db.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())

	err = u.Do(context.Background(), func(ctx context.Context) error {
		return nil
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "failed to begin transaction")
}

func TestUnitOfWork_DoCommitFailure_WithHook(t *testing.T) {
	db := newTestDB(t)
	createRetryQueueTable(t, db)
	u := &UnitOfWorkImpl{db: db}

	origCommit := commitTx
	t.Cleanup(func() { commitTx = origCommit })
	commitTx = func(tx *gorm.DB) error {
		return errors.New("forced commit fail")
	}

	fired := false
	err := u.Do(context.Background(), func(ctx context.Context) error {
		u.AfterCommit(ctx, func() { fired = true })
		return insertRetryRow(ctx, db)
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "failed to commit transaction")
	require.False(t, fired)
}
