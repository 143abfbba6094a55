// Copyright 2025 Softwell S.r.l.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package sql

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/genropy/wopiserver/pkg/errtypes"
	"github.com/genropy/wopiserver/pkg/store"
	"github.com/genropy/wopiserver/pkg/wopisession"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) wopisession.Store {
	t.Helper()
	db, err := store.Open("sqlite3", filepath.Join(t.TempDir(), "sessions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	s, err := New(db)
	require.NoError(t, err)
	return s
}

func newSession(ttl time.Duration) *wopisession.Session {
	now := time.Now()
	return &wopisession.Session{
		ID:             uuid.New().String(),
		TenantID:       "default",
		StorageName:    "docs",
		FilePath:       "a/b.xlsx",
		FileID:         uuid.New().String(),
		AccessToken:    uuid.New().String(),
		Permissions:    []string{"view", "edit"},
		Account:        "app",
		CreatedAt:      now,
		ExpiresAt:      now.Add(ttl),
		LastAccessedAt: now,
	}
}

func TestInsertAndLookups(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	sess := newSession(time.Hour)
	require.NoError(t, s.Insert(ctx, sess))

	byID, err := s.GetByID(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, sess.FileID, byID.FileID)
	assert.Equal(t, []string{"view", "edit"}, byID.Permissions)

	byFile, err := s.GetByFileID(ctx, sess.FileID)
	require.NoError(t, err)
	assert.Equal(t, sess.ID, byFile.ID)

	byToken, err := s.GetByToken(ctx, sess.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, sess.ID, byToken.ID)

	_, err = s.GetByID(ctx, "missing")
	_, ok := err.(errtypes.IsNotFound)
	assert.True(t, ok, "expected not found, got %v", err)
}

func TestInsertDuplicateFileID(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	first := newSession(time.Hour)
	require.NoError(t, s.Insert(ctx, first))

	dup := newSession(time.Hour)
	dup.FileID = first.FileID
	err := s.Insert(ctx, dup)
	require.Error(t, err)
	_, ok := err.(errtypes.IsAlreadyExists)
	assert.True(t, ok, "expected already exists, got %v", err)
}

func TestTouch(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	sess := newSession(time.Hour)
	require.NoError(t, s.Insert(ctx, sess))

	ts := time.Now().Add(time.Minute)
	require.NoError(t, s.Touch(ctx, sess.ID, ts))

	got, err := s.GetByID(ctx, sess.ID)
	require.NoError(t, err)
	assert.WithinDuration(t, ts, got.LastAccessedAt, time.Second)

	err = s.Touch(ctx, "missing", ts)
	_, ok := err.(errtypes.IsNotFound)
	assert.True(t, ok)
}

func TestMarkOpenedOnce(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	sess := newSession(time.Hour)
	require.NoError(t, s.Insert(ctx, sess))

	first, err := s.MarkOpened(ctx, sess.ID, time.Now())
	require.NoError(t, err)
	assert.True(t, first)

	again, err := s.MarkOpened(ctx, sess.ID, time.Now())
	require.NoError(t, err)
	assert.False(t, again)
}

func TestLockLifecycle(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	sess := newSession(time.Hour)
	require.NoError(t, s.Insert(ctx, sess))

	// acquire
	res, err := s.SetLock(ctx, sess.ID, "A", 30*time.Minute)
	require.NoError(t, err)
	assert.True(t, res.Acquired)

	// a different id is rejected with the holder
	res, err = s.SetLock(ctx, sess.ID, "B", 30*time.Minute)
	require.NoError(t, err)
	assert.False(t, res.Acquired)
	assert.Equal(t, "A", res.Existing)

	// idempotent refresh through SetLock
	res, err = s.SetLock(ctx, sess.ID, "A", 30*time.Minute)
	require.NoError(t, err)
	assert.True(t, res.Acquired)

	// wrong unlock
	unlock, err := s.ReleaseLock(ctx, sess.ID, "B")
	require.NoError(t, err)
	assert.Equal(t, wopisession.UnlockMismatch, unlock.Status)
	assert.Equal(t, "A", unlock.Existing)

	// right unlock
	unlock, err = s.ReleaseLock(ctx, sess.ID, "A")
	require.NoError(t, err)
	assert.Equal(t, wopisession.UnlockReleased, unlock.Status)

	// unlocking again reports not locked
	unlock, err = s.ReleaseLock(ctx, sess.ID, "A")
	require.NoError(t, err)
	assert.Equal(t, wopisession.UnlockNotLocked, unlock.Status)

	// B can acquire now
	res, err = s.SetLock(ctx, sess.ID, "B", 30*time.Minute)
	require.NoError(t, err)
	assert.True(t, res.Acquired)
}

func TestExpiredLockReadsAsUnlocked(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	sess := newSession(time.Hour)
	require.NoError(t, s.Insert(ctx, sess))

	res, err := s.SetLock(ctx, sess.ID, "A", -time.Minute)
	require.NoError(t, err)
	assert.True(t, res.Acquired)

	lock, err := s.GetLock(ctx, sess.ID)
	require.NoError(t, err)
	assert.Empty(t, lock)

	// a new holder can take over the expired lock
	res, err = s.SetLock(ctx, sess.ID, "B", 30*time.Minute)
	require.NoError(t, err)
	assert.True(t, res.Acquired)

	// refreshing an expired lock fails even for the old holder
	res, err = s.RefreshLock(ctx, sess.ID, "A", 30*time.Minute)
	require.NoError(t, err)
	assert.False(t, res.Acquired)
	assert.Equal(t, "B", res.Existing)
}

func TestRefreshRequiresCurrentLock(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	sess := newSession(time.Hour)
	require.NoError(t, s.Insert(ctx, sess))

	// refresh without a lock does not acquire
	res, err := s.RefreshLock(ctx, sess.ID, "A", 30*time.Minute)
	require.NoError(t, err)
	assert.False(t, res.Acquired)
	assert.Empty(t, res.Existing)
}

func TestTouchWithLock(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	sess := newSession(time.Hour)
	require.NoError(t, s.Insert(ctx, sess))

	// unlocked sessions accept the empty-lock guard
	held, err := s.TouchWithLock(ctx, sess.ID, "", time.Now())
	require.NoError(t, err)
	assert.True(t, held)

	_, err = s.SetLock(ctx, sess.ID, "A", 30*time.Minute)
	require.NoError(t, err)

	// the holder passes, any other state misses
	held, err = s.TouchWithLock(ctx, sess.ID, "A", time.Now())
	require.NoError(t, err)
	assert.True(t, held)

	held, err = s.TouchWithLock(ctx, sess.ID, "B", time.Now())
	require.NoError(t, err)
	assert.False(t, held)

	held, err = s.TouchWithLock(ctx, sess.ID, "", time.Now())
	require.NoError(t, err)
	assert.False(t, held)

	// after release the old holder's guard misses
	_, err = s.ReleaseLock(ctx, sess.ID, "A")
	require.NoError(t, err)
	held, err = s.TouchWithLock(ctx, sess.ID, "A", time.Now())
	require.NoError(t, err)
	assert.False(t, held)
}

func TestConcurrentLockContention(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	sess := newSession(time.Hour)
	require.NoError(t, s.Insert(ctx, sess))

	const attempts = 16
	var wg sync.WaitGroup
	acquired := make(chan string, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			res, err := s.SetLock(ctx, sess.ID, id, 30*time.Minute)
			if err == nil && res.Acquired {
				acquired <- id
			}
		}(uuid.New().String())
	}
	wg.Wait()
	close(acquired)

	var winners []string
	for id := range acquired {
		winners = append(winners, id)
	}
	require.Len(t, winners, 1, "exactly one contender must win")

	lock, err := s.GetLock(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, winners[0], lock)
}

func TestDeleteReleasesLock(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	sess := newSession(time.Hour)
	require.NoError(t, s.Insert(ctx, sess))
	_, err := s.SetLock(ctx, sess.ID, "A", 30*time.Minute)
	require.NoError(t, err)

	require.NoError(t, s.Delete(ctx, sess.ID))

	_, err = s.GetByID(ctx, sess.ID)
	_, ok := err.(errtypes.IsNotFound)
	assert.True(t, ok)
}

func TestListActiveAndCleanup(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	live := newSession(time.Hour)
	require.NoError(t, s.Insert(ctx, live))
	dead := newSession(-time.Minute)
	require.NoError(t, s.Insert(ctx, dead))
	other := newSession(time.Hour)
	other.TenantID = "other"
	require.NoError(t, s.Insert(ctx, other))

	active, err := s.ListActive(ctx, "")
	require.NoError(t, err)
	assert.Len(t, active, 2)

	scoped, err := s.ListActive(ctx, "default")
	require.NoError(t, err)
	require.Len(t, scoped, 1)
	assert.Equal(t, live.ID, scoped[0].ID)

	expired, err := s.ListExpired(ctx)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, dead.ID, expired[0].ID)

	n, err := s.DeleteExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = s.DeleteExpired(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}
