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

package sessions

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/genropy/wopiserver/pkg/callback"
	"github.com/genropy/wopiserver/pkg/commandlog"
	"github.com/genropy/wopiserver/pkg/editor"
	"github.com/genropy/wopiserver/pkg/storagereg"
	storageregsql "github.com/genropy/wopiserver/pkg/storagereg/manager/sql"
	"github.com/genropy/wopiserver/pkg/store"
	"github.com/genropy/wopiserver/pkg/tenant"
	tenantsql "github.com/genropy/wopiserver/pkg/tenant/manager/sql"
	jwtmgr "github.com/genropy/wopiserver/pkg/token/manager/jwt"
	"github.com/genropy/wopiserver/pkg/wopisession"
	sessionsql "github.com/genropy/wopiserver/pkg/wopisession/store/sql"

	_ "github.com/genropy/wopiserver/pkg/storage/fs/local"
)

type fixture struct {
	handler  http.Handler
	manager  *wopisession.Manager
	sessions wopisession.Store
	apiToken string
	otherTkn string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	db, err := store.Open("sqlite3", filepath.Join(t.TempDir(), "mgmt.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	tenants, err := tenantsql.New(db)
	require.NoError(t, err)
	apiToken, err := tenants.AddTenant(ctx, &tenant.Tenant{
		ID: "default", Name: "Default", Active: true, EditorMode: tenant.ModePool,
	})
	require.NoError(t, err)
	otherTkn, err := tenants.AddTenant(ctx, &tenant.Tenant{
		ID: "other", Name: "Other", Active: true, EditorMode: tenant.ModePool,
	})
	require.NoError(t, err)

	storages, err := storageregsql.New(db)
	require.NoError(t, err)
	for _, tid := range []string{"default", "other"} {
		require.NoError(t, storages.AddDefinition(ctx, &storagereg.Definition{
			TenantID: tid,
			Name:     "docs",
			Protocol: "local",
			Config:   map[string]interface{}{"root": t.TempDir()},
		}))
	}

	sessionStore, err := sessionsql.New(db)
	require.NoError(t, err)
	audit, err := commandlog.New(db)
	require.NoError(t, err)
	tokens, err := jwtmgr.New(map[string]interface{}{"secret": "testsecret"})
	require.NoError(t, err)

	dispatcher := callback.New(zerolog.Nop(), 1)
	editors := editor.New("http://127.0.0.1:1")
	manager := wopisession.NewManager(sessionStore, tokens, tenants, storages,
		editors, dispatcher, audit, "https://proxy.test")

	svc := New(manager, tenants)
	return &fixture{
		handler:  svc.Handler(),
		manager:  manager,
		sessions: sessionStore,
		apiToken: apiToken,
		otherTkn: otherTkn,
	}
}

func (f *fixture) do(method, target, bearer string, body interface{}) *httptest.ResponseRecorder {
	var rd bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&rd).Encode(body)
	}
	r := httptest.NewRequest(method, target, &rd)
	if bearer != "" {
		r.Header.Set("Authorization", "Bearer "+bearer)
	}
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, r)
	return w
}

func TestCreateRequiresAuth(t *testing.T) {
	f := newFixture(t)

	w := f.do(http.MethodPost, "/create", "", map[string]string{})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = f.do(http.MethodPost, "/create", "wrong-token", map[string]string{})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCreateSession(t *testing.T) {
	f := newFixture(t)

	w := f.do(http.MethodPost, "/create", f.apiToken, map[string]interface{}{
		"storage_name": "docs",
		"file_path":    "a/b.xlsx",
		"permissions":  []string{"view", "edit"},
		"account":      "app",
		"ttl":          60,
	})
	require.Equal(t, http.StatusOK, w.Code)

	var res wopisession.CreateResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.NotEmpty(t, res.SessionID)
	assert.NotEmpty(t, res.FileID)
	assert.NotEqual(t, res.SessionID, res.FileID)
	assert.Contains(t, res.EditorURL, "WOPISrc=")
	assert.Contains(t, res.EditorURL, "access_token=")
	assert.WithinDuration(t, time.Now().Add(time.Minute), res.ExpiresAt, 5*time.Second)
}

func TestCreateValidatesInput(t *testing.T) {
	f := newFixture(t)

	// missing account
	w := f.do(http.MethodPost, "/create", f.apiToken, map[string]interface{}{
		"storage_name": "docs",
		"file_path":    "a/b.xlsx",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// unknown storage
	w = f.do(http.MethodPost, "/create", f.apiToken, map[string]interface{}{
		"storage_name": "nope",
		"file_path":    "a/b.xlsx",
		"account":      "app",
	})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetProjectionHidesToken(t *testing.T) {
	f := newFixture(t)

	w := f.do(http.MethodPost, "/create", f.apiToken, map[string]interface{}{
		"storage_name": "docs", "file_path": "a/b.xlsx", "account": "app",
	})
	require.Equal(t, http.StatusOK, w.Code)
	var res wopisession.CreateResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))

	w = f.do(http.MethodGet, "/"+res.SessionID, f.apiToken, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var proj map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &proj))
	assert.Equal(t, res.SessionID, proj["session_id"])
	assert.Equal(t, "a/b.xlsx", proj["file_path"])
	assert.NotContains(t, w.Body.String(), "access_token")
}

func TestTenantIsolation(t *testing.T) {
	f := newFixture(t)

	w := f.do(http.MethodPost, "/create", f.apiToken, map[string]interface{}{
		"storage_name": "docs", "file_path": "a/b.xlsx", "account": "app",
	})
	require.Equal(t, http.StatusOK, w.Code)
	var res wopisession.CreateResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))

	// another tenant cannot see or close the session
	w = f.do(http.MethodGet, "/"+res.SessionID, f.otherTkn, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = f.do(http.MethodPost, "/"+res.SessionID+"/close", f.otherTkn, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	// listings are scoped to the caller's tenant
	w = f.do(http.MethodGet, "/", f.otherTkn, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var listing struct {
		Sessions []map[string]interface{} `json:"sessions"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listing))
	assert.Empty(t, listing.Sessions)
}

func TestCloseSession(t *testing.T) {
	f := newFixture(t)

	w := f.do(http.MethodPost, "/create", f.apiToken, map[string]interface{}{
		"storage_name": "docs", "file_path": "a/b.xlsx", "account": "app",
	})
	require.Equal(t, http.StatusOK, w.Code)
	var res wopisession.CreateResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))

	w = f.do(http.MethodPost, "/"+res.SessionID+"/close", f.apiToken, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = f.do(http.MethodGet, "/"+res.SessionID, f.apiToken, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestUpstreamTimeoutMapsToGatewayTimeout(t *testing.T) {
	s := &svc{}

	for _, err := range []error{
		pkgerrors.Wrap(context.DeadlineExceeded, "editor discovery"),
		&net.DNSError{Err: "lookup timed out", IsTimeout: true},
	} {
		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodPost, "/create", nil)
		s.writeManagerError(w, r, err)
		assert.Equal(t, http.StatusGatewayTimeout, w.Code, "for %v", err)
	}

	// non-timeout failures still map to 500
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/create", nil)
	s.writeManagerError(w, r, pkgerrors.New("backend exploded"))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestCleanup(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// one live and one expired session
	now := time.Now()
	for i, exp := range []time.Time{now.Add(time.Hour), now.Add(-time.Hour)} {
		sess := &wopisession.Session{
			ID:             []string{"live", "dead"}[i],
			TenantID:       "default",
			StorageName:    "docs",
			FilePath:       "a/b.xlsx",
			FileID:         []string{"file-live", "file-dead"}[i],
			AccessToken:    []string{"tok-live", "tok-dead"}[i],
			Permissions:    []string{"view"},
			Account:        "app",
			CreatedAt:      now.Add(-2 * time.Hour),
			ExpiresAt:      exp,
			LastAccessedAt: now,
		}
		require.NoError(t, f.sessions.Insert(ctx, sess))
	}

	// dry run counts without deleting
	w := f.do(http.MethodPost, "/cleanup?dry_run=true", f.apiToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var res wopisession.CleanupResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, 1, res.ExpiredCount)

	_, err := f.sessions.GetByID(ctx, "dead")
	require.NoError(t, err)

	// the real sweep removes the expired row
	w = f.do(http.MethodPost, "/cleanup", f.apiToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, 1, res.ExpiredCount)

	_, err = f.sessions.GetByID(ctx, "dead")
	require.Error(t, err)
	_, err = f.sessions.GetByID(ctx, "live")
	require.NoError(t, err)
}
