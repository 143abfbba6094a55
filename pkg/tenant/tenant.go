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

// Package tenant defines the tenant model and registry contract.
// Tenants are the isolation boundary: every session, storage and
// callback belongs to exactly one tenant.
package tenant

import (
	"context"
	"time"
)

// Mode selects which editor serves a tenant's documents.
type Mode string

const (
	// ModePool uses the process-wide configured editor pool.
	ModePool Mode = "pool"
	// ModeOwn uses the tenant's own editor URL.
	ModeOwn Mode = "own"
	// ModeDisabled refuses to open documents for the tenant.
	ModeDisabled Mode = "disabled"
)

// Tenant holds the per-tenant configuration.
type Tenant struct {
	ID              string
	Name            string
	Active          bool
	EditorMode      Mode
	EditorURL       string // required iff EditorMode == ModeOwn
	CallbackBaseURL string
	CallbackAuth    string // opaque auth blob for callbacks
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Manager is the registry contract for tenants.
type Manager interface {
	// GetTenant returns the tenant or errtypes.NotFound.
	GetTenant(ctx context.Context, id string) (*Tenant, error)
	// GetTenantByToken resolves a tenant from a presented API token,
	// or errtypes.InvalidCredentials.
	GetTenantByToken(ctx context.Context, apiToken string) (*Tenant, error)
	// AddTenant inserts the tenant and returns its freshly minted
	// API token. The clear token is only available here.
	AddTenant(ctx context.Context, t *Tenant) (string, error)
	// RemoveTenant deletes the tenant.
	RemoveTenant(ctx context.Context, id string) error
	// ListTenants returns all tenants.
	ListTenants(ctx context.Context) ([]*Tenant, error)
	// EnsureDefault creates the "default" pool tenant when the
	// registry is empty, returning its API token, or "" when the
	// registry already has tenants.
	EnsureDefault(ctx context.Context) (string, error)
}
