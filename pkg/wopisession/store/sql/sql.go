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

// Package sql implements the session store on the shared relational
// database. Lock transitions are guarded updates: the predicate
// carries the allowed prior states and the affected-rows count
// decides the outcome, so two concurrent acquisitions with different
// lock ids produce exactly one winner.
package sql

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/genropy/wopiserver/pkg/errtypes"
	"github.com/genropy/wopiserver/pkg/store"
	"github.com/genropy/wopiserver/pkg/wopisession"
	"github.com/pkg/errors"
)

// New returns a session store backed by the given database handle.
func New(db *sql.DB) (wopisession.Store, error) {
	if err := initTable(db); err != nil {
		return nil, err
	}
	return &mgr{db: db}, nil
}

type mgr struct {
	db *sql.DB
}

// initTable sticks to the DDL subset sqlite and mysql share: VARCHAR
// for keyed and defaulted columns, since mysql rejects TEXT defaults
// and cannot index TEXT without a prefix length.
func initTable(db *sql.DB) error {
	stmt := `CREATE TABLE IF NOT EXISTS sessions (
		id VARCHAR(36) PRIMARY KEY,
		tenant_id VARCHAR(255) NOT NULL,
		storage_name VARCHAR(255) NOT NULL,
		file_path TEXT NOT NULL,
		file_id VARCHAR(64) NOT NULL UNIQUE,
		access_token VARCHAR(512) NOT NULL UNIQUE,
		permissions VARCHAR(64) NOT NULL DEFAULT 'view',
		account VARCHAR(255) NOT NULL,
		user VARCHAR(255) NOT NULL DEFAULT '',
		origin_connection_id VARCHAR(255) NOT NULL DEFAULT '',
		origin_page_id VARCHAR(255) NOT NULL DEFAULT '',
		lock_id VARCHAR(1024) NOT NULL DEFAULT '',
		lock_expires_at VARCHAR(40) NOT NULL DEFAULT '',
		created_at VARCHAR(40) NOT NULL,
		expires_at VARCHAR(40) NOT NULL,
		last_accessed_at VARCHAR(40) NOT NULL,
		opened_at VARCHAR(40) NOT NULL DEFAULT ''
	)`
	if _, err := db.Exec(stmt); err != nil {
		return errors.Wrap(err, "sessionsql: error creating table")
	}
	return nil
}

const sessionColumns = "id, tenant_id, storage_name, file_path, file_id, access_token, permissions, account, user, origin_connection_id, origin_page_id, lock_id, lock_expires_at, created_at, expires_at, last_accessed_at, opened_at"

func scanSession(row interface{ Scan(...interface{}) error }) (*wopisession.Session, error) {
	var s wopisession.Session
	var perms, lockExp, created, expires, accessed, opened string
	if err := row.Scan(&s.ID, &s.TenantID, &s.StorageName, &s.FilePath, &s.FileID,
		&s.AccessToken, &perms, &s.Account, &s.User, &s.OriginConnectionID,
		&s.OriginPageID, &s.LockID, &lockExp, &created, &expires, &accessed, &opened); err != nil {
		return nil, err
	}

	if perms != "" {
		s.Permissions = strings.Split(perms, ",")
	}
	var err error
	if s.LockExpiresAt, err = store.ParseTime(lockExp); err != nil {
		return nil, err
	}
	if s.CreatedAt, err = store.ParseTime(created); err != nil {
		return nil, err
	}
	if s.ExpiresAt, err = store.ParseTime(expires); err != nil {
		return nil, err
	}
	if s.LastAccessedAt, err = store.ParseTime(accessed); err != nil {
		return nil, err
	}
	if s.OpenedAt, err = store.ParseTime(opened); err != nil {
		return nil, err
	}
	return &s, nil
}

func (m *mgr) Insert(ctx context.Context, s *wopisession.Session) error {
	lockExp := ""
	if !s.LockExpiresAt.IsZero() {
		lockExp = store.FormatTime(s.LockExpiresAt)
	}
	opened := ""
	if !s.OpenedAt.IsZero() {
		opened = store.FormatTime(s.OpenedAt)
	}

	_, err := m.db.ExecContext(ctx,
		"INSERT INTO sessions ("+sessionColumns+") VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)",
		s.ID, s.TenantID, s.StorageName, s.FilePath, s.FileID, s.AccessToken,
		strings.Join(s.Permissions, ","), s.Account, s.User, s.OriginConnectionID,
		s.OriginPageID, s.LockID, lockExp, store.FormatTime(s.CreatedAt),
		store.FormatTime(s.ExpiresAt), store.FormatTime(s.LastAccessedAt), opened)
	if err != nil {
		if isConstraintViolation(err) {
			return errtypes.AlreadyExists("session: " + s.ID)
		}
		return errors.Wrap(err, "sessionsql: error inserting session")
	}
	return nil
}

// isConstraintViolation matches the unique-constraint errors of both
// supported drivers without importing their error types here.
func isConstraintViolation(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique") || strings.Contains(msg, "duplicate")
}

func (m *mgr) getBy(ctx context.Context, column, value string) (*wopisession.Session, error) {
	row := m.db.QueryRowContext(ctx,
		"SELECT "+sessionColumns+" FROM sessions WHERE "+column+" = ?", value)
	s, err := scanSession(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errtypes.NotFound("session: " + value)
		}
		return nil, errors.Wrap(err, "sessionsql: error getting session")
	}
	return s, nil
}

func (m *mgr) GetByID(ctx context.Context, id string) (*wopisession.Session, error) {
	return m.getBy(ctx, "id", id)
}

func (m *mgr) GetByFileID(ctx context.Context, fileID string) (*wopisession.Session, error) {
	return m.getBy(ctx, "file_id", fileID)
}

func (m *mgr) GetByToken(ctx context.Context, accessToken string) (*wopisession.Session, error) {
	return m.getBy(ctx, "access_token", accessToken)
}

func (m *mgr) Touch(ctx context.Context, id string, ts time.Time) error {
	res, err := m.db.ExecContext(ctx,
		"UPDATE sessions SET last_accessed_at = ? WHERE id = ?", store.FormatTime(ts), id)
	if err != nil {
		return errors.Wrap(err, "sessionsql: error touching session")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errtypes.NotFound("session: " + id)
	}
	return nil
}

// TouchWithLock is the post-write barrier of PutFile: the guard
// re-checks the lock state the caller validated before writing, so an
// unlock or takeover racing the write surfaces as a miss.
func (m *mgr) TouchWithLock(ctx context.Context, id, lockID string, ts time.Time) (bool, error) {
	now := store.FormatTime(time.Now())

	var res sql.Result
	var err error
	if lockID == "" {
		res, err = m.db.ExecContext(ctx,
			"UPDATE sessions SET last_accessed_at = ? WHERE id = ? AND (lock_id = '' OR lock_expires_at <= ?)",
			store.FormatTime(ts), id, now)
	} else {
		res, err = m.db.ExecContext(ctx,
			"UPDATE sessions SET last_accessed_at = ? WHERE id = ? AND lock_id = ? AND lock_expires_at > ?",
			store.FormatTime(ts), id, lockID, now)
	}
	if err != nil {
		return false, errors.Wrap(err, "sessionsql: error touching session under lock")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "sessionsql: error touching session under lock")
	}
	return n == 1, nil
}

func (m *mgr) MarkOpened(ctx context.Context, id string, ts time.Time) (bool, error) {
	res, err := m.db.ExecContext(ctx,
		"UPDATE sessions SET opened_at = ? WHERE id = ? AND opened_at = ''",
		store.FormatTime(ts), id)
	if err != nil {
		return false, errors.Wrap(err, "sessionsql: error marking session opened")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "sessionsql: error marking session opened")
	}
	return n == 1, nil
}

func (m *mgr) SetLock(ctx context.Context, id, lockID string, ttl time.Duration) (*wopisession.LockResult, error) {
	now := time.Now()
	res, err := m.db.ExecContext(ctx,
		`UPDATE sessions SET lock_id = ?, lock_expires_at = ?
		 WHERE id = ? AND (lock_id = '' OR lock_expires_at <= ? OR lock_id = ?)`,
		lockID, store.FormatTime(now.Add(ttl)), id, store.FormatTime(now), lockID)
	if err != nil {
		return nil, errors.Wrap(err, "sessionsql: error setting lock")
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return &wopisession.LockResult{Acquired: true}, nil
	}
	return m.lockMiss(ctx, id)
}

func (m *mgr) RefreshLock(ctx context.Context, id, lockID string, ttl time.Duration) (*wopisession.LockResult, error) {
	now := time.Now()
	res, err := m.db.ExecContext(ctx,
		`UPDATE sessions SET lock_expires_at = ?
		 WHERE id = ? AND lock_id = ? AND lock_id <> '' AND lock_expires_at > ?`,
		store.FormatTime(now.Add(ttl)), id, lockID, store.FormatTime(now))
	if err != nil {
		return nil, errors.Wrap(err, "sessionsql: error refreshing lock")
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return &wopisession.LockResult{Acquired: true}, nil
	}
	return m.lockMiss(ctx, id)
}

// lockMiss reads the live lock after a failed guarded update so the
// caller can report the conflicting id.
func (m *mgr) lockMiss(ctx context.Context, id string) (*wopisession.LockResult, error) {
	existing, err := m.GetLock(ctx, id)
	if err != nil {
		return nil, err
	}
	return &wopisession.LockResult{Acquired: false, Existing: existing}, nil
}

func (m *mgr) ReleaseLock(ctx context.Context, id, lockID string) (*wopisession.UnlockResult, error) {
	now := time.Now()
	res, err := m.db.ExecContext(ctx,
		`UPDATE sessions SET lock_id = '', lock_expires_at = ''
		 WHERE id = ? AND lock_id = ? AND lock_id <> '' AND lock_expires_at > ?`,
		id, lockID, store.FormatTime(now))
	if err != nil {
		return nil, errors.Wrap(err, "sessionsql: error releasing lock")
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return &wopisession.UnlockResult{Status: wopisession.UnlockReleased}, nil
	}

	existing, err := m.GetLock(ctx, id)
	if err != nil {
		return nil, err
	}
	if existing == "" {
		return &wopisession.UnlockResult{Status: wopisession.UnlockNotLocked}, nil
	}
	return &wopisession.UnlockResult{Status: wopisession.UnlockMismatch, Existing: existing}, nil
}

func (m *mgr) GetLock(ctx context.Context, id string) (string, error) {
	var lockID, lockExp string
	err := m.db.QueryRowContext(ctx,
		"SELECT lock_id, lock_expires_at FROM sessions WHERE id = ?", id).
		Scan(&lockID, &lockExp)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", errtypes.NotFound("session: " + id)
		}
		return "", errors.Wrap(err, "sessionsql: error reading lock")
	}
	if lockID == "" {
		return "", nil
	}

	exp, err := store.ParseTime(lockExp)
	if err != nil {
		return "", err
	}
	if !exp.After(time.Now()) {
		// expired locks read as no lock
		return "", nil
	}
	return lockID, nil
}

func (m *mgr) Delete(ctx context.Context, id string) error {
	res, err := m.db.ExecContext(ctx, "DELETE FROM sessions WHERE id = ?", id)
	if err != nil {
		return errors.Wrap(err, "sessionsql: error deleting session")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errtypes.NotFound("session: " + id)
	}
	return nil
}

func (m *mgr) list(ctx context.Context, query string, args ...interface{}) ([]*wopisession.Session, error) {
	rows, err := m.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "sessionsql: error listing sessions")
	}
	defer rows.Close()

	var sessions []*wopisession.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, errors.Wrap(err, "sessionsql: error scanning session")
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

func (m *mgr) ListActive(ctx context.Context, tenantID string) ([]*wopisession.Session, error) {
	now := store.FormatTime(time.Now())
	if tenantID != "" {
		return m.list(ctx,
			"SELECT "+sessionColumns+" FROM sessions WHERE expires_at > ? AND tenant_id = ? ORDER BY created_at",
			now, tenantID)
	}
	return m.list(ctx,
		"SELECT "+sessionColumns+" FROM sessions WHERE expires_at > ? ORDER BY created_at", now)
}

func (m *mgr) ListExpired(ctx context.Context) ([]*wopisession.Session, error) {
	return m.list(ctx,
		"SELECT "+sessionColumns+" FROM sessions WHERE expires_at <= ? ORDER BY created_at",
		store.FormatTime(time.Now()))
}

func (m *mgr) DeleteExpired(ctx context.Context) (int, error) {
	res, err := m.db.ExecContext(ctx,
		"DELETE FROM sessions WHERE expires_at <= ?", store.FormatTime(time.Now()))
	if err != nil {
		return 0, errors.Wrap(err, "sessionsql: error deleting expired sessions")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "sessionsql: error deleting expired sessions")
	}
	return int(n), nil
}
