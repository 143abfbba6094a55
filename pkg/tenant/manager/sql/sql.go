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

// Package sql implements the tenant registry on the shared relational
// database. Reads go through a short-lived cache; administrative
// writes invalidate it.
package sql

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"database/sql"
	"encoding/hex"
	"time"

	"github.com/genropy/wopiserver/pkg/errtypes"
	"github.com/genropy/wopiserver/pkg/store"
	"github.com/genropy/wopiserver/pkg/tenant"
	"github.com/jellydator/ttlcache/v2"
	"github.com/pkg/errors"
)

const cacheTTL = 60 * time.Second

// New returns a tenant registry backed by the given database handle.
func New(db *sql.DB) (tenant.Manager, error) {
	if err := initTable(db); err != nil {
		return nil, err
	}

	cache := ttlcache.NewCache()
	_ = cache.SetTTL(cacheTTL)
	cache.SkipTTLExtensionOnHit(true)

	return &mgr{db: db, cache: cache}, nil
}

type mgr struct {
	db    *sql.DB
	cache *ttlcache.Cache
}

// initTable sticks to the DDL subset sqlite and mysql share: VARCHAR
// for keyed and defaulted columns, since mysql rejects TEXT defaults
// and cannot index TEXT without a prefix length.
func initTable(db *sql.DB) error {
	stmt := `CREATE TABLE IF NOT EXISTS tenants (
		id VARCHAR(255) PRIMARY KEY,
		name VARCHAR(255) NOT NULL,
		active INTEGER NOT NULL DEFAULT 1,
		editor_mode VARCHAR(32) NOT NULL DEFAULT 'pool',
		editor_url VARCHAR(1024) NOT NULL DEFAULT '',
		callback_base_url VARCHAR(1024) NOT NULL DEFAULT '',
		callback_auth VARCHAR(1024) NOT NULL DEFAULT '',
		api_token_hash VARCHAR(64) NOT NULL DEFAULT '',
		created_at VARCHAR(40) NOT NULL,
		updated_at VARCHAR(40) NOT NULL
	)`
	if _, err := db.Exec(stmt); err != nil {
		return errors.Wrap(err, "tenantsql: error creating table")
	}
	return nil
}

func hashToken(tkn string) string {
	sum := sha256.Sum256([]byte(tkn))
	return hex.EncodeToString(sum[:])
}

func newToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", errors.Wrap(err, "tenantsql: error generating token")
	}
	return hex.EncodeToString(b), nil
}

const tenantColumns = "id, name, active, editor_mode, editor_url, callback_base_url, callback_auth, created_at, updated_at"

func scanTenant(row interface{ Scan(...interface{}) error }) (*tenant.Tenant, error) {
	var t tenant.Tenant
	var active int
	var created, updated string
	if err := row.Scan(&t.ID, &t.Name, &active, (*string)(&t.EditorMode), &t.EditorURL,
		&t.CallbackBaseURL, &t.CallbackAuth, &created, &updated); err != nil {
		return nil, err
	}
	t.Active = active != 0

	var err error
	if t.CreatedAt, err = store.ParseTime(created); err != nil {
		return nil, err
	}
	if t.UpdatedAt, err = store.ParseTime(updated); err != nil {
		return nil, err
	}
	return &t, nil
}

func (m *mgr) GetTenant(ctx context.Context, id string) (*tenant.Tenant, error) {
	if v, err := m.cache.Get(id); err == nil {
		return v.(*tenant.Tenant), nil
	}

	row := m.db.QueryRowContext(ctx, "SELECT "+tenantColumns+" FROM tenants WHERE id = ?", id)
	t, err := scanTenant(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errtypes.NotFound("tenant: " + id)
		}
		return nil, errors.Wrap(err, "tenantsql: error getting tenant")
	}

	_ = m.cache.Set(id, t)
	return t, nil
}

func (m *mgr) GetTenantByToken(ctx context.Context, apiToken string) (*tenant.Tenant, error) {
	if apiToken == "" {
		return nil, errtypes.InvalidCredentials("missing api token")
	}

	hash := hashToken(apiToken)
	var id, stored string
	err := m.db.QueryRowContext(ctx,
		"SELECT id, api_token_hash FROM tenants WHERE api_token_hash = ?", hash).
		Scan(&id, &stored)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errtypes.InvalidCredentials("unknown api token")
		}
		return nil, errors.Wrap(err, "tenantsql: error resolving token")
	}
	if subtle.ConstantTimeCompare([]byte(hash), []byte(stored)) != 1 {
		return nil, errtypes.InvalidCredentials("unknown api token")
	}

	return m.GetTenant(ctx, id)
}

func (m *mgr) AddTenant(ctx context.Context, t *tenant.Tenant) (string, error) {
	if t.ID == "" {
		return "", errtypes.BadRequest("tenant id is required")
	}
	if t.EditorMode == "" {
		t.EditorMode = tenant.ModePool
	}
	if t.EditorMode == tenant.ModeOwn && t.EditorURL == "" {
		return "", errtypes.BadRequest("editor_url is required for mode 'own'")
	}

	tkn, err := newToken()
	if err != nil {
		return "", err
	}

	now := store.FormatTime(time.Now())
	active := 0
	if t.Active {
		active = 1
	}
	_, err = m.db.ExecContext(ctx,
		"INSERT INTO tenants (id, name, active, editor_mode, editor_url, callback_base_url, callback_auth, api_token_hash, created_at, updated_at) VALUES (?,?,?,?,?,?,?,?,?,?)",
		t.ID, t.Name, active, string(t.EditorMode), t.EditorURL, t.CallbackBaseURL, t.CallbackAuth, hashToken(tkn), now, now)
	if err != nil {
		return "", errors.Wrap(err, "tenantsql: error inserting tenant")
	}

	_ = m.cache.Remove(t.ID)
	return tkn, nil
}

func (m *mgr) RemoveTenant(ctx context.Context, id string) error {
	res, err := m.db.ExecContext(ctx, "DELETE FROM tenants WHERE id = ?", id)
	if err != nil {
		return errors.Wrap(err, "tenantsql: error deleting tenant")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errtypes.NotFound("tenant: " + id)
	}

	_ = m.cache.Remove(id)
	return nil
}

func (m *mgr) ListTenants(ctx context.Context) ([]*tenant.Tenant, error) {
	rows, err := m.db.QueryContext(ctx, "SELECT "+tenantColumns+" FROM tenants ORDER BY id")
	if err != nil {
		return nil, errors.Wrap(err, "tenantsql: error listing tenants")
	}
	defer rows.Close()

	var tenants []*tenant.Tenant
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, errors.Wrap(err, "tenantsql: error scanning tenant")
		}
		tenants = append(tenants, t)
	}
	return tenants, rows.Err()
}

func (m *mgr) EnsureDefault(ctx context.Context) (string, error) {
	var count int
	if err := m.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM tenants").Scan(&count); err != nil {
		return "", errors.Wrap(err, "tenantsql: error counting tenants")
	}
	if count > 0 {
		return "", nil
	}

	return m.AddTenant(ctx, &tenant.Tenant{
		ID:         "default",
		Name:       "Default",
		Active:     true,
		EditorMode: tenant.ModePool,
	})
}
