package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCompletionLockWithoutClient(t *testing.T) {
	lock := NewCompletionLock(&Redis{}, time.Second)

	release, acquired, err := lock.Acquire(context.Background(), "txn-1")
	assert.ErrorIs(t, err, ErrLockUnavailable)
	assert.False(t, acquired)
	assert.NotPanics(t, release)

	var nilLock *CompletionLock
	_, _, err = nilLock.Acquire(context.Background(), "txn-1")
	assert.ErrorIs(t, err, ErrLockUnavailable)
}

func TestNilHandlesReportUnconfigured(t *testing.T) {
	var pg *Postgres
	assert.Error(t, pg.Ping(context.Background()))
	assert.Nil(t, pg.PoolHandle())

	var r *Redis
	assert.Error(t, r.Ping(context.Background()))
}
