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

// Package wopi implements the WOPI host endpoints consumed by the
// office editor: CheckFileInfo, GetFile, PutFile and the lock
// operations, with the wire semantics the editor expects
// (X-WOPI-Lock conflict headers, version strings, permission-gated
// writes).
package wopi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/genropy/wopiserver/pkg/appctx"
	"github.com/genropy/wopiserver/pkg/callback"
	"github.com/genropy/wopiserver/pkg/commandlog"
	"github.com/genropy/wopiserver/pkg/errtypes"
	"github.com/genropy/wopiserver/pkg/rhttp/global"
	"github.com/genropy/wopiserver/pkg/rhttp/router"
	"github.com/genropy/wopiserver/pkg/storage"
	"github.com/genropy/wopiserver/pkg/storagereg"
	"github.com/genropy/wopiserver/pkg/tenant"
	"github.com/genropy/wopiserver/pkg/token"
	"github.com/genropy/wopiserver/pkg/wopisession"
)

// lockTTL is the WOPI lock duration; the editor refreshes well within
// it.
const lockTTL = 30 * time.Minute

// WOPI wire headers.
const (
	headerLock        = "X-WOPI-Lock"
	headerOverride    = "X-WOPI-Override"
	headerItemVersion = "X-WOPI-ItemVersion"
	headerServerError = "X-WOPI-ServerError"
)

type svc struct {
	sessions   *wopisession.Manager
	tokens     token.Manager
	tenants    tenant.Manager
	storages   storagereg.Registry
	dispatcher *callback.Dispatcher
	audit      commandlog.Logger
}

// New returns the WOPI host service.
func New(sessions *wopisession.Manager, tokens token.Manager, tenants tenant.Manager,
	storages storagereg.Registry, dispatcher *callback.Dispatcher, audit commandlog.Logger) global.Service {
	return &svc{
		sessions:   sessions,
		tokens:     tokens,
		tenants:    tenants,
		storages:   storages,
		dispatcher: dispatcher,
		audit:      audit,
	}
}

func (s *svc) Prefix() string { return "wopi" }

func (s *svc) Close() error { return nil }

func (s *svc) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var head string
		head, r.URL.Path = router.ShiftPath(r.URL.Path)
		if head != "files" {
			http.Error(w, "Not Found", http.StatusNotFound)
			return
		}

		var fileID string
		fileID, r.URL.Path = router.ShiftPath(r.URL.Path)
		if fileID == "" {
			http.Error(w, "Not Found", http.StatusNotFound)
			return
		}
		var sub string
		sub, r.URL.Path = router.ShiftPath(r.URL.Path)

		sess, ok := s.authenticate(w, r, fileID)
		if !ok {
			return
		}

		switch {
		case sub == "" && r.Method == http.MethodGet:
			s.checkFileInfo(w, r, sess)
		case sub == "" && r.Method == http.MethodPost:
			s.lockOperation(w, r, sess)
		case sub == "contents" && r.Method == http.MethodGet:
			s.getFile(w, r, sess)
		case sub == "contents" && r.Method == http.MethodPost:
			s.putFile(w, r, sess)
		default:
			http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		}
	})
}

// authenticate runs the common preamble: token signature, session
// lookup by file id, token cross-check and expiry. On failure it
// writes the response and returns false.
func (s *svc) authenticate(w http.ResponseWriter, r *http.Request, fileID string) (*wopisession.Session, bool) {
	ctx := r.Context()
	log := appctx.GetLogger(ctx)

	presented := r.URL.Query().Get("access_token")
	if _, err := s.tokens.DismantleToken(ctx, presented); err != nil {
		code := "invalid_token"
		if _, ok := err.(errtypes.IsExpired); ok {
			code = "expired"
		}
		writeJSONError(w, http.StatusUnauthorized, code)
		return nil, false
	}

	sess, err := s.sessions.Store().GetByFileID(ctx, fileID)
	if err != nil {
		if _, ok := err.(errtypes.IsNotFound); ok {
			http.Error(w, "Not Found", http.StatusNotFound)
			return nil, false
		}
		log.Error().Err(err).Str("file_id", fileID).Msg("error loading session")
		w.WriteHeader(http.StatusInternalServerError)
		return nil, false
	}

	if sess.AccessToken != presented {
		// a valid token presented against another session's file id
		s.audit.Log(ctx, &commandlog.Entry{
			TenantID: sess.TenantID,
			Account:  sess.Account,
			User:     sess.User,
			Command:  "wopi.denied",
			Details: map[string]interface{}{
				"session_id": sess.ID,
				"file_id":    fileID,
				"reason":     "token_mismatch",
			},
		})
		writeJSONError(w, http.StatusUnauthorized, "token_mismatch")
		return nil, false
	}
	if sess.Expired(time.Now()) {
		writeJSONError(w, http.StatusUnauthorized, "expired")
		return nil, false
	}
	return sess, true
}

func (s *svc) node(ctx context.Context, sess *wopisession.Session) (storage.Node, error) {
	return s.storages.ResolveNode(ctx, sess.TenantID, sess.StorageName, sess.FilePath)
}

// version computes the WOPI version string for the node: the newest
// version id on versioned backends, a mtime tag otherwise.
func version(ctx context.Context, n storage.Node) (string, error) {
	if n.Capabilities().Versioning {
		versions, err := n.Versions(ctx)
		if err != nil {
			return "", err
		}
		if len(versions) > 0 {
			return versions[0].ID, nil
		}
	}

	mtime, err := n.Mtime(ctx)
	if err != nil {
		if _, ok := err.(errtypes.IsNotFound); ok {
			return "v0", nil
		}
		return "", err
	}
	return fmt.Sprintf("v%d", mtime.Unix()), nil
}

type fileInfo struct {
	BaseFileName            string `json:"BaseFileName"`
	Size                    int64  `json:"Size"`
	OwnerID                 string `json:"OwnerId"`
	UserID                  string `json:"UserId"`
	UserFriendlyName        string `json:"UserFriendlyName"`
	Version                 string `json:"Version"`
	UserCanWrite            bool   `json:"UserCanWrite"`
	UserCanNotWriteRelative bool   `json:"UserCanNotWriteRelative"`
	SupportsLocks           bool   `json:"SupportsLocks"`
	SupportsUpdate          bool   `json:"SupportsUpdate"`
}

func (s *svc) checkFileInfo(w http.ResponseWriter, r *http.Request, sess *wopisession.Session) {
	ctx := r.Context()
	log := appctx.GetLogger(ctx)

	n, err := s.node(ctx, sess)
	if err != nil {
		s.writeStorageError(w, err)
		return
	}

	// missing files report size zero so the editor can create them
	var size int64
	exists, err := n.Exists(ctx)
	if err != nil {
		s.writeStorageError(w, err)
		return
	}
	if exists {
		if size, err = n.Size(ctx); err != nil {
			s.writeStorageError(w, err)
			return
		}
	}
	v, err := version(ctx, n)
	if err != nil {
		s.writeStorageError(w, err)
		return
	}

	info := &fileInfo{
		BaseFileName:            n.Basename(),
		Size:                    size,
		OwnerID:                 sess.TenantID,
		UserID:                  sess.DisplayName(),
		UserFriendlyName:        sess.DisplayName(),
		Version:                 v,
		UserCanWrite:            sess.CanWrite(),
		UserCanNotWriteRelative: true,
		SupportsLocks:           true,
		SupportsUpdate:          true,
	}

	s.touch(ctx, sess)
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(info); err != nil {
		log.Error().Err(err).Msg("error encoding CheckFileInfo response")
	}
}

func (s *svc) getFile(w http.ResponseWriter, r *http.Request, sess *wopisession.Session) {
	ctx := r.Context()
	log := appctx.GetLogger(ctx)

	n, err := s.node(ctx, sess)
	if err != nil {
		s.writeStorageError(w, err)
		return
	}
	data, err := n.ReadBytes(ctx)
	if err != nil {
		s.writeStorageError(w, err)
		return
	}

	if n.Capabilities().Versioning {
		if v, err := version(ctx, n); err == nil {
			w.Header().Set(headerItemVersion, v)
		}
	}

	s.touch(ctx, sess)
	s.auditOp(ctx, sess, "wopi.get_file", nil)

	first, err := s.sessions.Store().MarkOpened(ctx, sess.ID, time.Now())
	if err != nil {
		log.Error().Err(err).Str("session", sess.ID).Msg("error marking session opened")
	}
	if first {
		s.dispatch(ctx, sess, callback.EventDocumentOpened, nil)
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	if _, err := w.Write(data); err != nil {
		log.Error().Err(err).Msg("error writing file contents")
	}
}

func (s *svc) putFile(w http.ResponseWriter, r *http.Request, sess *wopisession.Session) {
	ctx := r.Context()

	if !sess.CanWrite() {
		// the WOPI convention hides existence from view-only callers
		w.Header().Set(headerServerError, "NotAuthorized")
		w.WriteHeader(http.StatusNotFound)
		return
	}

	presented := r.Header.Get(headerLock)
	current, err := s.sessions.Store().GetLock(ctx, sess.ID)
	if err != nil {
		s.writeStorageError(w, err)
		return
	}

	n, err := s.node(ctx, sess)
	if err != nil {
		s.writeStorageError(w, err)
		return
	}

	switch {
	case current == "" && presented == "":
		// unlocked writes are only allowed on a brand-new empty file
		var size int64
		exists, err := n.Exists(ctx)
		if err != nil {
			s.writeStorageError(w, err)
			return
		}
		if exists {
			if size, err = n.Size(ctx); err != nil {
				s.writeStorageError(w, err)
				return
			}
		}
		if size != 0 {
			w.Header().Set(headerLock, "")
			w.WriteHeader(http.StatusConflict)
			return
		}
	case current != "" && presented != current:
		w.Header().Set(headerLock, current)
		w.WriteHeader(http.StatusConflict)
		return
	case current == "" && presented != "":
		w.Header().Set(headerLock, "")
		w.WriteHeader(http.StatusConflict)
		return
	}

	data, err := io.ReadAll(r.Body)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	if err := n.WriteBytes(ctx, data); err != nil {
		s.writeStorageError(w, err)
		return
	}

	// re-validate the lock while recording the write: an UNLOCK or a
	// takeover that raced the body write shows up as a miss here, and
	// the response reports the conflict instead of a stale success
	held, err := s.sessions.Store().TouchWithLock(ctx, sess.ID, presented, time.Now())
	if err != nil {
		s.writeStorageError(w, err)
		return
	}
	if !held {
		current, err := s.sessions.Store().GetLock(ctx, sess.ID)
		if err != nil {
			s.writeStorageError(w, err)
			return
		}
		w.Header().Set(headerLock, current)
		w.WriteHeader(http.StatusConflict)
		return
	}

	v, err := version(ctx, n)
	if err != nil {
		s.writeStorageError(w, err)
		return
	}

	s.auditOp(ctx, sess, "wopi.put_file", map[string]interface{}{"size": len(data)})
	s.dispatch(ctx, sess, callback.EventDocumentSaved, nil)

	w.Header().Set(headerItemVersion, v)
	w.WriteHeader(http.StatusOK)
}

func (s *svc) lockOperation(w http.ResponseWriter, r *http.Request, sess *wopisession.Session) {
	ctx := r.Context()
	override := r.Header.Get(headerOverride)
	lockID := r.Header.Get(headerLock)

	switch override {
	case "LOCK":
		s.lock(ctx, w, sess, lockID)
	case "UNLOCK":
		s.unlock(ctx, w, sess, lockID)
	case "REFRESH_LOCK":
		s.refreshLock(ctx, w, sess, lockID)
	case "GET_LOCK":
		s.getLock(ctx, w, sess)
	default:
		http.Error(w, "Bad Request", http.StatusBadRequest)
	}
}

func (s *svc) lock(ctx context.Context, w http.ResponseWriter, sess *wopisession.Session, lockID string) {
	if lockID == "" {
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}

	res, err := s.sessions.Store().SetLock(ctx, sess.ID, lockID, lockTTL)
	if err != nil {
		s.writeStorageError(w, err)
		return
	}
	if !res.Acquired {
		w.Header().Set(headerLock, res.Existing)
		w.WriteHeader(http.StatusConflict)
		return
	}

	s.touch(ctx, sess)
	s.auditOp(ctx, sess, "wopi.lock", map[string]interface{}{"lock_id": lockID})
	s.dispatch(ctx, sess, callback.EventLockAcquired, nil)

	w.Header().Set(headerLock, lockID)
	w.WriteHeader(http.StatusOK)
}

func (s *svc) unlock(ctx context.Context, w http.ResponseWriter, sess *wopisession.Session, lockID string) {
	if lockID == "" {
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}

	res, err := s.sessions.Store().ReleaseLock(ctx, sess.ID, lockID)
	if err != nil {
		s.writeStorageError(w, err)
		return
	}
	if res.Status != wopisession.UnlockReleased {
		w.Header().Set(headerLock, res.Existing)
		w.WriteHeader(http.StatusConflict)
		return
	}

	s.touch(ctx, sess)
	s.auditOp(ctx, sess, "wopi.unlock", map[string]interface{}{"lock_id": lockID})
	s.dispatch(ctx, sess, callback.EventLockReleased, nil)

	w.WriteHeader(http.StatusOK)
}

func (s *svc) refreshLock(ctx context.Context, w http.ResponseWriter, sess *wopisession.Session, lockID string) {
	if lockID == "" {
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}

	res, err := s.sessions.Store().RefreshLock(ctx, sess.ID, lockID, lockTTL)
	if err != nil {
		s.writeStorageError(w, err)
		return
	}
	if !res.Acquired {
		w.Header().Set(headerLock, res.Existing)
		w.WriteHeader(http.StatusConflict)
		return
	}

	s.touch(ctx, sess)
	s.auditOp(ctx, sess, "wopi.refresh_lock", map[string]interface{}{"lock_id": lockID})

	w.WriteHeader(http.StatusOK)
}

func (s *svc) getLock(ctx context.Context, w http.ResponseWriter, sess *wopisession.Session) {
	current, err := s.sessions.Store().GetLock(ctx, sess.ID)
	if err != nil {
		s.writeStorageError(w, err)
		return
	}

	s.touch(ctx, sess)

	w.Header().Set(headerLock, current)
	w.WriteHeader(http.StatusOK)
}

func (s *svc) touch(ctx context.Context, sess *wopisession.Session) {
	if err := s.sessions.Store().Touch(ctx, sess.ID, time.Now()); err != nil {
		appctx.GetLogger(ctx).Error().Err(err).Str("session", sess.ID).Msg("error touching session")
	}
}

func (s *svc) auditOp(ctx context.Context, sess *wopisession.Session, command string, extra map[string]interface{}) {
	details := map[string]interface{}{
		"session_id": sess.ID,
		"file_id":    sess.FileID,
		"file_path":  sess.FilePath,
	}
	for k, v := range extra {
		details[k] = v
	}
	s.audit.Log(ctx, &commandlog.Entry{
		TenantID: sess.TenantID,
		Account:  sess.Account,
		User:     sess.User,
		Command:  command,
		Details:  details,
	})
}

func (s *svc) dispatch(ctx context.Context, sess *wopisession.Session, event string, extras map[string]interface{}) {
	t, err := s.tenants.GetTenant(ctx, sess.TenantID)
	if err != nil {
		appctx.GetLogger(ctx).Warn().Err(err).Str("tenant", sess.TenantID).
			Msg("error resolving tenant for callback")
		return
	}
	s.dispatcher.Dispatch(ctx, t, &callback.Event{
		OriginConnectionID: sess.OriginConnectionID,
		OriginPageID:       sess.OriginPageID,
		Event:              event,
		SessionID:          sess.ID,
		FilePath:           sess.FilePath,
		Extras:             extras,
	})
}

// writeStorageError maps backend and store errors to the WOPI
// boundary.
func (s *svc) writeStorageError(w http.ResponseWriter, err error) {
	switch err.(type) {
	case errtypes.IsNotFound:
		http.Error(w, "Not Found", http.StatusNotFound)
	case errtypes.IsNotSupported:
		w.Header().Set(headerServerError, "UnsupportedCapability")
		w.WriteHeader(http.StatusNotImplemented)
	case errtypes.IsPermissionDenied:
		w.Header().Set(headerServerError, "NotAuthorized")
		w.WriteHeader(http.StatusNotFound)
	default:
		w.Header().Set(headerServerError, "StorageFailure")
		w.WriteHeader(http.StatusInternalServerError)
	}
}

func writeJSONError(w http.ResponseWriter, status int, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"error":"` + code + `"}`))
}
