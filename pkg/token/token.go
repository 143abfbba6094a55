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

// Package token defines the access-token contract. Tokens are
// stateless and verifiable offline; the session row remains the
// authority on expiry.
package token

import (
	"context"
	"time"
)

// Claims is the data carried by an access token.
type Claims struct {
	SessionID string
	ExpiresAt time.Time
}

// Manager is the interface to implement to sign and verify tokens.
type Manager interface {
	// MintToken signs a token bound to the given session id, valid
	// for the given ttl.
	MintToken(ctx context.Context, sessionID string, ttl time.Duration) (string, error)
	// DismantleToken verifies the signature and returns the claims.
	// It returns errtypes.Expired for well-formed but expired tokens
	// and errtypes.InvalidCredentials for anything else.
	DismantleToken(ctx context.Context, token string) (*Claims, error)
}
