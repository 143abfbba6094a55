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

// Package storagereg resolves a (tenant, storage name) pair into a
// configured storage backend. It is the single place that
// dereferences opaque storage names into physical resources; the
// protocol layer never touches storage configuration directly.
package storagereg

import (
	"context"
	"time"

	"github.com/genropy/wopiserver/pkg/storage"
)

// Definition is one per-tenant storage backend row.
type Definition struct {
	TenantID     string
	Name         string
	Protocol     string                 // local, s3, webdav, ...
	Config       map[string]interface{} // driver config, opaque to callers
	Capabilities storage.Capabilities
	CreatedAt    time.Time
}

// Registry is the contract for the per-tenant storage registry.
type Registry interface {
	// GetDefinition returns the storage row or errtypes.NotFound.
	GetDefinition(ctx context.Context, tenantID, name string) (*Definition, error)
	// AddDefinition inserts a storage row and snapshots the driver
	// capabilities.
	AddDefinition(ctx context.Context, d *Definition) error
	// RemoveDefinition deletes a storage row.
	RemoveDefinition(ctx context.Context, tenantID, name string) error
	// ListDefinitions returns the rows for one tenant, or all rows
	// when tenantID is empty.
	ListDefinitions(ctx context.Context, tenantID string) ([]*Definition, error)
	// ResolveStorage builds (or returns a cached) backend for the
	// given storage row.
	ResolveStorage(ctx context.Context, tenantID, name string) (storage.Storage, error)
	// ResolveNode returns a node for the (tenant, storage, path)
	// triple.
	ResolveNode(ctx context.Context, tenantID, name, path string) (storage.Node, error)
}
