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

package wopisession

import (
	"context"
	"time"

	"github.com/genropy/wopiserver/pkg/appctx"
	"github.com/genropy/wopiserver/pkg/callback"
	"github.com/genropy/wopiserver/pkg/commandlog"
	"github.com/genropy/wopiserver/pkg/editor"
	"github.com/genropy/wopiserver/pkg/errtypes"
	"github.com/genropy/wopiserver/pkg/storagereg"
	"github.com/genropy/wopiserver/pkg/tenant"
	"github.com/genropy/wopiserver/pkg/token"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// DefaultTTL is the session lifetime when the caller does not ask for
// one.
const DefaultTTL = 3600 * time.Second

// insertRetries bounds id regeneration on conflicting inserts.
const insertRetries = 3

// CreateRequest carries the parameters for opening a session.
type CreateRequest struct {
	TenantID           string
	StorageName        string
	FilePath           string
	Permissions        []string
	Account            string
	User               string
	OriginConnectionID string
	OriginPageID       string
	TTL                time.Duration
}

// CreateResult is returned to the application that opened the session.
type CreateResult struct {
	SessionID string    `json:"session_id"`
	FileID    string    `json:"file_id"`
	EditorURL string    `json:"editor_url"`
	ExpiresAt time.Time `json:"expires_at"`
}

// CleanupResult summarizes an expiry sweep.
type CleanupResult struct {
	ExpiredCount      int `json:"expired_count"`
	LockReleasedCount int `json:"lock_released_count"`
}

// Manager applies the session lifecycle rules on top of the store.
type Manager struct {
	store      Store
	tokens     token.Manager
	tenants    tenant.Manager
	storages   storagereg.Registry
	editors    *editor.Resolver
	dispatcher *callback.Dispatcher
	audit      commandlog.Logger
	proxyBase  string
}

// NewManager wires a session manager.
func NewManager(store Store, tokens token.Manager, tenants tenant.Manager,
	storages storagereg.Registry, editors *editor.Resolver,
	dispatcher *callback.Dispatcher, audit commandlog.Logger, proxyBase string) *Manager {
	return &Manager{
		store:      store,
		tokens:     tokens,
		tenants:    tenants,
		storages:   storages,
		editors:    editors,
		dispatcher: dispatcher,
		audit:      audit,
		proxyBase:  proxyBase,
	}
}

// Store exposes the underlying session store to the protocol layer.
func (m *Manager) Store() Store { return m.store }

// Create opens a session and returns the handles the application
// embeds in the browser. The file itself need not exist yet.
func (m *Manager) Create(ctx context.Context, req *CreateRequest) (*CreateResult, error) {
	if req.TenantID == "" || req.StorageName == "" || req.FilePath == "" || req.Account == "" {
		return nil, errtypes.BadRequest("tenant_id, storage_name, file_path and account are required")
	}

	t, err := m.tenants.GetTenant(ctx, req.TenantID)
	if err != nil {
		return nil, err
	}
	if !t.Active {
		return nil, errtypes.Disabled("tenant disabled: " + t.ID)
	}
	// verify the storage exists, not the file: sessions may target a
	// not-yet-materialized path
	if _, err := m.storages.GetDefinition(ctx, t.ID, req.StorageName); err != nil {
		return nil, err
	}

	ttl := req.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	s := &Session{
		TenantID:           t.ID,
		StorageName:        req.StorageName,
		FilePath:           req.FilePath,
		Permissions:        NormalizePermissions(req.Permissions),
		Account:            req.Account,
		User:               req.User,
		OriginConnectionID: req.OriginConnectionID,
		OriginPageID:       req.OriginPageID,
	}

	var lastErr error
	for i := 0; i < insertRetries; i++ {
		now := time.Now()
		s.ID = uuid.New().String()
		s.FileID = uuid.New().String()
		s.CreatedAt = now
		s.ExpiresAt = now.Add(ttl)
		s.LastAccessedAt = now

		tkn, err := m.tokens.MintToken(ctx, s.ID, ttl)
		if err != nil {
			return nil, err
		}
		s.AccessToken = tkn

		if lastErr = m.store.Insert(ctx, s); lastErr == nil {
			break
		}
		if _, ok := lastErr.(errtypes.IsAlreadyExists); !ok {
			return nil, lastErr
		}
	}
	if lastErr != nil {
		return nil, errors.Wrap(lastErr, "wopisession: exhausted id generation retries")
	}

	editorURL, err := m.editors.ComposeURL(ctx, t, m.proxyBase, s.FileID, s.FilePath, s.AccessToken)
	if err != nil {
		// roll back the row so the failed create leaves nothing behind
		if derr := m.store.Delete(ctx, s.ID); derr != nil {
			appctx.GetLogger(ctx).Error().Err(derr).Str("session", s.ID).
				Msg("error deleting session after editor resolution failure")
		}
		return nil, err
	}

	m.audit.Log(ctx, &commandlog.Entry{
		TenantID: t.ID,
		Account:  s.Account,
		User:     s.User,
		Command:  "session.create",
		Details: map[string]interface{}{
			"session_id":   s.ID,
			"file_id":      s.FileID,
			"storage_name": s.StorageName,
			"file_path":    s.FilePath,
			"permissions":  s.Permissions,
		},
	})
	m.dispatcher.Dispatch(ctx, t, &callback.Event{
		OriginConnectionID: s.OriginConnectionID,
		OriginPageID:       s.OriginPageID,
		Event:              callback.EventSessionCreated,
		SessionID:          s.ID,
		FilePath:           s.FilePath,
	})

	return &CreateResult{
		SessionID: s.ID,
		FileID:    s.FileID,
		EditorURL: editorURL,
		ExpiresAt: s.ExpiresAt,
	}, nil
}

// Close deletes the session, releasing any lock with it.
func (m *Manager) Close(ctx context.Context, sessionID string) error {
	s, err := m.store.GetByID(ctx, sessionID)
	if err != nil {
		return err
	}

	hadLock, err := m.store.GetLock(ctx, s.ID)
	if err != nil {
		return err
	}
	if err := m.store.Delete(ctx, s.ID); err != nil {
		return err
	}

	m.audit.Log(ctx, &commandlog.Entry{
		TenantID: s.TenantID,
		Account:  s.Account,
		User:     s.User,
		Command:  "session.close",
		Details: map[string]interface{}{
			"session_id": s.ID,
			"file_path":  s.FilePath,
		},
	})

	if hadLock != "" {
		if t, terr := m.tenants.GetTenant(ctx, s.TenantID); terr == nil {
			m.dispatcher.Dispatch(ctx, t, &callback.Event{
				OriginConnectionID: s.OriginConnectionID,
				OriginPageID:       s.OriginPageID,
				Event:              callback.EventLockReleased,
				SessionID:          s.ID,
				FilePath:           s.FilePath,
			})
		}
	}
	return nil
}

// Cleanup sweeps expired sessions. With dryRun it only reports what
// the sweep would remove.
func (m *Manager) Cleanup(ctx context.Context, dryRun bool) (*CleanupResult, error) {
	expired, err := m.store.ListExpired(ctx)
	if err != nil {
		return nil, err
	}

	res := &CleanupResult{ExpiredCount: len(expired)}
	for _, s := range expired {
		if s.LockID != "" {
			res.LockReleasedCount++
		}
	}
	if dryRun {
		return res, nil
	}

	if _, err := m.store.DeleteExpired(ctx); err != nil {
		return nil, err
	}

	for _, s := range expired {
		m.audit.Log(ctx, &commandlog.Entry{
			TenantID: s.TenantID,
			Account:  s.Account,
			User:     s.User,
			Command:  "session.expire",
			Details: map[string]interface{}{
				"session_id": s.ID,
				"file_path":  s.FilePath,
			},
		})
		if t, terr := m.tenants.GetTenant(ctx, s.TenantID); terr == nil {
			m.dispatcher.Dispatch(ctx, t, &callback.Event{
				OriginConnectionID: s.OriginConnectionID,
				OriginPageID:       s.OriginPageID,
				Event:              callback.EventSessionExpired,
				SessionID:          s.ID,
				FilePath:           s.FilePath,
			})
		}
	}
	return res, nil
}
