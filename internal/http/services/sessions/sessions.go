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

// Package sessions exposes the management REST surface for the
// session lifecycle. Callers authenticate with their tenant API token
// and only ever see sessions of their own tenant.
package sessions

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/genropy/wopiserver/pkg/appctx"
	"github.com/genropy/wopiserver/pkg/errtypes"
	"github.com/genropy/wopiserver/pkg/rhttp/global"
	"github.com/genropy/wopiserver/pkg/rhttp/router"
	"github.com/genropy/wopiserver/pkg/tenant"
	"github.com/genropy/wopiserver/pkg/wopisession"
)

type svc struct {
	sessions *wopisession.Manager
	tenants  tenant.Manager
}

// New returns the session management service.
func New(sessions *wopisession.Manager, tenants tenant.Manager) global.Service {
	return &svc{sessions: sessions, tenants: tenants}
}

func (s *svc) Prefix() string { return "sessions" }

func (s *svc) Close() error { return nil }

func (s *svc) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t, ok := s.authenticate(w, r)
		if !ok {
			return
		}

		var head string
		head, r.URL.Path = router.ShiftPath(r.URL.Path)

		switch {
		case head == "create" && r.Method == http.MethodPost:
			s.create(w, r, t)
		case head == "cleanup" && r.Method == http.MethodPost:
			s.cleanup(w, r)
		case head == "" && r.Method == http.MethodGet:
			s.list(w, r, t)
		case head != "":
			var action string
			action, r.URL.Path = router.ShiftPath(r.URL.Path)
			switch {
			case action == "" && r.Method == http.MethodGet:
				s.get(w, r, t, head)
			case action == "close" && r.Method == http.MethodPost:
				s.close(w, r, t, head)
			default:
				http.Error(w, "Not Found", http.StatusNotFound)
			}
		default:
			http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		}
	})
}

// authenticate resolves the tenant from the bearer API token.
func (s *svc) authenticate(w http.ResponseWriter, r *http.Request) (*tenant.Tenant, bool) {
	auth := r.Header.Get("Authorization")
	apiToken := strings.TrimPrefix(auth, "Bearer ")
	if apiToken == auth || apiToken == "" {
		writeError(w, http.StatusUnauthorized, "missing bearer token")
		return nil, false
	}

	t, err := s.tenants.GetTenantByToken(r.Context(), apiToken)
	if err != nil {
		if _, ok := err.(errtypes.IsInvalidCredentials); ok {
			writeError(w, http.StatusUnauthorized, "invalid api token")
			return nil, false
		}
		writeError(w, http.StatusInternalServerError, "error resolving tenant")
		return nil, false
	}
	if !t.Active {
		writeError(w, http.StatusForbidden, "tenant disabled")
		return nil, false
	}
	return t, true
}

type createRequest struct {
	StorageName        string   `json:"storage_name"`
	FilePath           string   `json:"file_path"`
	Permissions        []string `json:"permissions"`
	Account            string   `json:"account"`
	User               string   `json:"user"`
	OriginConnectionID string   `json:"origin_connection_id"`
	OriginPageID       string   `json:"origin_page_id"`
	TTLSeconds         int64    `json:"ttl"`
}

func (s *svc) create(w http.ResponseWriter, r *http.Request, t *tenant.Tenant) {
	ctx := r.Context()

	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	res, err := s.sessions.Create(ctx, &wopisession.CreateRequest{
		TenantID:           t.ID,
		StorageName:        req.StorageName,
		FilePath:           req.FilePath,
		Permissions:        req.Permissions,
		Account:            req.Account,
		User:               req.User,
		OriginConnectionID: req.OriginConnectionID,
		OriginPageID:       req.OriginPageID,
		TTL:                time.Duration(req.TTLSeconds) * time.Second,
	})
	if err != nil {
		s.writeManagerError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, res)
}

// projection is the session view returned to the application. The
// access token never leaves the service.
type projection struct {
	SessionID          string    `json:"session_id"`
	TenantID           string    `json:"tenant_id"`
	StorageName        string    `json:"storage_name"`
	FilePath           string    `json:"file_path"`
	FileID             string    `json:"file_id"`
	Permissions        []string  `json:"permissions"`
	Account            string    `json:"account"`
	User               string    `json:"user,omitempty"`
	OriginConnectionID string    `json:"origin_connection_id,omitempty"`
	OriginPageID       string    `json:"origin_page_id,omitempty"`
	Locked             bool      `json:"locked"`
	CreatedAt          time.Time `json:"created_at"`
	ExpiresAt          time.Time `json:"expires_at"`
	LastAccessedAt     time.Time `json:"last_accessed_at"`
}

func project(sess *wopisession.Session) *projection {
	return &projection{
		SessionID:          sess.ID,
		TenantID:           sess.TenantID,
		StorageName:        sess.StorageName,
		FilePath:           sess.FilePath,
		FileID:             sess.FileID,
		Permissions:        sess.Permissions,
		Account:            sess.Account,
		User:               sess.User,
		OriginConnectionID: sess.OriginConnectionID,
		OriginPageID:       sess.OriginPageID,
		Locked:             sess.LockID != "" && sess.LockExpiresAt.After(time.Now()),
		CreatedAt:          sess.CreatedAt,
		ExpiresAt:          sess.ExpiresAt,
		LastAccessedAt:     sess.LastAccessedAt,
	}
}

func (s *svc) get(w http.ResponseWriter, r *http.Request, t *tenant.Tenant, id string) {
	sess, err := s.sessions.Store().GetByID(r.Context(), id)
	if err != nil {
		s.writeManagerError(w, r, err)
		return
	}
	if sess.TenantID != t.ID {
		// hide other tenants' sessions entirely
		writeError(w, http.StatusNotFound, "session not found")
		return
	}

	writeJSON(w, http.StatusOK, project(sess))
}

func (s *svc) list(w http.ResponseWriter, r *http.Request, t *tenant.Tenant) {
	sessions, err := s.sessions.Store().ListActive(r.Context(), t.ID)
	if err != nil {
		s.writeManagerError(w, r, err)
		return
	}

	out := make([]*projection, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, project(sess))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"sessions": out})
}

func (s *svc) close(w http.ResponseWriter, r *http.Request, t *tenant.Tenant, id string) {
	ctx := r.Context()

	sess, err := s.sessions.Store().GetByID(ctx, id)
	if err != nil {
		s.writeManagerError(w, r, err)
		return
	}
	if sess.TenantID != t.ID {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}

	if err := s.sessions.Close(ctx, id); err != nil {
		s.writeManagerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "closed"})
}

func (s *svc) cleanup(w http.ResponseWriter, r *http.Request) {
	dryRun := r.URL.Query().Get("dry_run") == "true"
	if r.ContentLength > 0 {
		var body struct {
			DryRun bool `json:"dry_run"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err == nil {
			dryRun = dryRun || body.DryRun
		}
	}

	res, err := s.sessions.Cleanup(r.Context(), dryRun)
	if err != nil {
		s.writeManagerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *svc) writeManagerError(w http.ResponseWriter, r *http.Request, err error) {
	if isUpstreamTimeout(err) {
		appctx.GetLogger(r.Context()).Warn().Err(err).Msg("upstream timeout")
		writeError(w, http.StatusGatewayTimeout, "upstream timeout")
		return
	}

	switch err.(type) {
	case errtypes.IsBadRequest:
		writeError(w, http.StatusBadRequest, err.Error())
	case errtypes.IsNotFound:
		writeError(w, http.StatusNotFound, err.Error())
	case errtypes.IsDisabled:
		writeError(w, http.StatusForbidden, err.Error())
	default:
		appctx.GetLogger(r.Context()).Error().Err(err).Msg("session management error")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// isUpstreamTimeout matches deadline and network timeouts bubbling up
// from the editor or a storage backend, possibly wrapped.
func isUpstreamTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var nerr net.Error
	return errors.As(err, &nerr) && nerr.Timeout()
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
