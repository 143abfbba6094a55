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

// Package wopisession holds the session model and its persistence
// contract. A session ties an opaque file_id to a tenant, a
// storage-resolved file path, a user identity, a permission set, an
// expiry and a WOPI lock.
package wopisession

import (
	"context"
	"strings"
	"time"
)

// Permission names a capability granted to a session.
const (
	PermissionView = "view"
	PermissionEdit = "edit"
)

// Session is one editing session row.
type Session struct {
	ID                 string
	TenantID           string
	StorageName        string
	FilePath           string
	FileID             string
	AccessToken        string
	Permissions        []string
	Account            string
	User               string
	OriginConnectionID string
	OriginPageID       string
	LockID             string    // "" when unlocked
	LockExpiresAt      time.Time // zero when unlocked
	CreatedAt          time.Time
	ExpiresAt          time.Time
	LastAccessedAt     time.Time
	OpenedAt           time.Time // zero until the first successful GetFile
}

// Expired reports whether the session may no longer serve WOPI
// operations.
func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.After(now)
}

// CanWrite reports whether the session grants edit access.
func (s *Session) CanWrite() bool {
	for _, p := range s.Permissions {
		if p == PermissionEdit {
			return true
		}
	}
	return false
}

// DisplayName returns the identity shown in the editor.
func (s *Session) DisplayName() string {
	if s.User != "" {
		return s.User
	}
	return s.Account
}

// NormalizePermissions lowercases, deduplicates and injects the view
// permission. Unknown names are dropped.
func NormalizePermissions(perms []string) []string {
	out := []string{PermissionView}
	for _, p := range perms {
		if strings.EqualFold(strings.TrimSpace(p), PermissionEdit) {
			out = append(out, PermissionEdit)
			break
		}
	}
	return out
}

// LockResult is the outcome of a lock acquisition attempt.
type LockResult struct {
	Acquired bool
	// Existing is the conflicting lock id when Acquired is false.
	Existing string
}

// UnlockStatus is the outcome of a lock release attempt.
type UnlockStatus int

const (
	// UnlockReleased means the lock was held by the caller and is gone.
	UnlockReleased UnlockStatus = iota
	// UnlockMismatch means another lock id holds the file.
	UnlockMismatch
	// UnlockNotLocked means the file carried no live lock.
	UnlockNotLocked
)

// UnlockResult is the outcome of a lock release attempt.
type UnlockResult struct {
	Status UnlockStatus
	// Existing is the current lock id on mismatch.
	Existing string
}

// Store is the transactional persistence contract for sessions. Lock
// transitions are linearizable per session id: concurrent attempts
// with different lock ids produce exactly one winner.
type Store interface {
	// Insert stores a new session, failing with errtypes.AlreadyExists
	// on a duplicate id, file_id or access_token.
	Insert(ctx context.Context, s *Session) error
	// GetByID returns the session or errtypes.NotFound.
	GetByID(ctx context.Context, id string) (*Session, error)
	// GetByFileID returns the session or errtypes.NotFound.
	GetByFileID(ctx context.Context, fileID string) (*Session, error)
	// GetByToken returns the session or errtypes.NotFound.
	GetByToken(ctx context.Context, accessToken string) (*Session, error)
	// Touch updates last_accessed_at.
	Touch(ctx context.Context, id string, ts time.Time) error
	// TouchWithLock updates last_accessed_at only while lockID is
	// still the live lock, or, when lockID is empty, while the session
	// is still unlocked. It reports false when the lock state changed
	// in between.
	TouchWithLock(ctx context.Context, id, lockID string, ts time.Time) (bool, error)
	// MarkOpened records the first successful GetFile. It reports true
	// exactly once per session.
	MarkOpened(ctx context.Context, id string, ts time.Time) (bool, error)
	// SetLock acquires or refreshes the lock. It succeeds when the
	// session is unlocked, the current lock has expired, or the
	// current lock id equals lockID.
	SetLock(ctx context.Context, id, lockID string, ttl time.Duration) (*LockResult, error)
	// RefreshLock extends the lock only when the current lock id
	// equals lockID and has not expired.
	RefreshLock(ctx context.Context, id, lockID string, ttl time.Duration) (*LockResult, error)
	// ReleaseLock drops the lock only when the current lock id equals
	// lockID.
	ReleaseLock(ctx context.Context, id, lockID string) (*UnlockResult, error)
	// GetLock returns the current lock id, or "" when the session is
	// unlocked or the lock has expired.
	GetLock(ctx context.Context, id string) (string, error)
	// Delete removes the session, releasing any lock with it.
	Delete(ctx context.Context, id string) error
	// ListActive returns non-expired sessions, optionally filtered by
	// tenant.
	ListActive(ctx context.Context, tenantID string) ([]*Session, error)
	// ListExpired returns sessions whose expires_at has passed.
	ListExpired(ctx context.Context) ([]*Session, error)
	// DeleteExpired removes all expired sessions and returns the count.
	DeleteExpired(ctx context.Context) (int, error)
}
