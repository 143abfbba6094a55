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

// Package sql implements the storage registry on the shared
// relational database. Built backends are cached with a short TTL so
// administrative changes take effect without a restart.
package sql

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/genropy/wopiserver/pkg/errtypes"
	"github.com/genropy/wopiserver/pkg/storage"
	"github.com/genropy/wopiserver/pkg/storage/registry"
	"github.com/genropy/wopiserver/pkg/storagereg"
	"github.com/genropy/wopiserver/pkg/store"
	"github.com/jellydator/ttlcache/v2"
	"github.com/pkg/errors"
)

const cacheTTL = 60 * time.Second

// New returns a storage registry backed by the given database handle.
func New(db *sql.DB) (storagereg.Registry, error) {
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
// for keyed columns and no TEXT defaults; config and capabilities are
// always written explicitly.
func initTable(db *sql.DB) error {
	stmt := `CREATE TABLE IF NOT EXISTS storages (
		tenant_id VARCHAR(255) NOT NULL,
		name VARCHAR(255) NOT NULL,
		protocol VARCHAR(32) NOT NULL,
		config TEXT NOT NULL,
		capabilities TEXT NOT NULL,
		created_at VARCHAR(40) NOT NULL,
		PRIMARY KEY (tenant_id, name)
	)`
	if _, err := db.Exec(stmt); err != nil {
		return errors.Wrap(err, "storagesql: error creating table")
	}
	return nil
}

func (m *mgr) GetDefinition(ctx context.Context, tenantID, name string) (*storagereg.Definition, error) {
	row := m.db.QueryRowContext(ctx,
		"SELECT tenant_id, name, protocol, config, capabilities, created_at FROM storages WHERE tenant_id = ? AND name = ?",
		tenantID, name)

	var d storagereg.Definition
	var confJSON, capsJSON, created string
	if err := row.Scan(&d.TenantID, &d.Name, &d.Protocol, &confJSON, &capsJSON, &created); err != nil {
		if err == sql.ErrNoRows {
			return nil, errtypes.NotFound("storage: " + tenantID + "/" + name)
		}
		return nil, errors.Wrap(err, "storagesql: error getting storage")
	}

	if err := json.Unmarshal([]byte(confJSON), &d.Config); err != nil {
		return nil, errors.Wrap(err, "storagesql: error decoding config")
	}
	if err := json.Unmarshal([]byte(capsJSON), &d.Capabilities); err != nil {
		return nil, errors.Wrap(err, "storagesql: error decoding capabilities")
	}
	var err error
	if d.CreatedAt, err = store.ParseTime(created); err != nil {
		return nil, err
	}
	return &d, nil
}

func (m *mgr) AddDefinition(ctx context.Context, d *storagereg.Definition) error {
	if d.TenantID == "" || d.Name == "" {
		return errtypes.BadRequest("tenant_id and name are required")
	}

	newFn, ok := registry.NewFuncs[d.Protocol]
	if !ok {
		return errtypes.BadRequest("unknown storage protocol: " + d.Protocol)
	}
	// build once to validate the config and snapshot capabilities
	fs, err := newFn(d.Config)
	if err != nil {
		return errors.Wrap(err, "storagesql: error validating storage config")
	}
	d.Capabilities = fs.Capabilities()
	_ = fs.Shutdown()

	confJSON, err := json.Marshal(d.Config)
	if err != nil {
		return errors.Wrap(err, "storagesql: error encoding config")
	}
	capsJSON, err := json.Marshal(d.Capabilities)
	if err != nil {
		return errors.Wrap(err, "storagesql: error encoding capabilities")
	}

	_, err = m.db.ExecContext(ctx,
		"INSERT INTO storages (tenant_id, name, protocol, config, capabilities, created_at) VALUES (?,?,?,?,?,?)",
		d.TenantID, d.Name, d.Protocol, string(confJSON), string(capsJSON), store.FormatTime(time.Now()))
	if err != nil {
		return errors.Wrap(err, "storagesql: error inserting storage")
	}

	_ = m.cache.Remove(d.TenantID + "/" + d.Name)
	return nil
}

func (m *mgr) RemoveDefinition(ctx context.Context, tenantID, name string) error {
	res, err := m.db.ExecContext(ctx, "DELETE FROM storages WHERE tenant_id = ? AND name = ?", tenantID, name)
	if err != nil {
		return errors.Wrap(err, "storagesql: error deleting storage")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errtypes.NotFound("storage: " + tenantID + "/" + name)
	}

	_ = m.cache.Remove(tenantID + "/" + name)
	return nil
}

func (m *mgr) ListDefinitions(ctx context.Context, tenantID string) ([]*storagereg.Definition, error) {
	query := "SELECT tenant_id, name FROM storages ORDER BY tenant_id, name"
	args := []interface{}{}
	if tenantID != "" {
		query = "SELECT tenant_id, name FROM storages WHERE tenant_id = ? ORDER BY name"
		args = append(args, tenantID)
	}

	rows, err := m.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "storagesql: error listing storages")
	}
	defer rows.Close()

	type key struct{ tenant, name string }
	var keys []key
	for rows.Next() {
		var k key
		if err := rows.Scan(&k.tenant, &k.name); err != nil {
			return nil, errors.Wrap(err, "storagesql: error scanning storage")
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	defs := make([]*storagereg.Definition, 0, len(keys))
	for _, k := range keys {
		d, err := m.GetDefinition(ctx, k.tenant, k.name)
		if err != nil {
			return nil, err
		}
		defs = append(defs, d)
	}
	return defs, nil
}

func (m *mgr) ResolveStorage(ctx context.Context, tenantID, name string) (storage.Storage, error) {
	cacheKey := tenantID + "/" + name
	if v, err := m.cache.Get(cacheKey); err == nil {
		return v.(storage.Storage), nil
	}

	d, err := m.GetDefinition(ctx, tenantID, name)
	if err != nil {
		return nil, err
	}

	newFn, ok := registry.NewFuncs[d.Protocol]
	if !ok {
		return nil, errtypes.InternalError("storagesql: no driver for protocol " + d.Protocol)
	}
	fs, err := newFn(d.Config)
	if err != nil {
		return nil, errors.Wrap(err, "storagesql: error building storage "+cacheKey)
	}

	_ = m.cache.Set(cacheKey, fs)
	return fs, nil
}

func (m *mgr) ResolveNode(ctx context.Context, tenantID, name, path string) (storage.Node, error) {
	fs, err := m.ResolveStorage(ctx, tenantID, name)
	if err != nil {
		return nil, err
	}
	return fs.Node(path)
}
