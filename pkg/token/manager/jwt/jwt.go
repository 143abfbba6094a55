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

// Package jwt implements the token manager with HMAC-signed JWTs.
package jwt

import (
	"context"
	"time"

	"github.com/genropy/wopiserver/pkg/errtypes"
	"github.com/genropy/wopiserver/pkg/token"
	"github.com/golang-jwt/jwt/v5"
	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
)

const defaultExpiration int64 = 3600 // 1 hour

const audience = "wopi"

type config struct {
	Secret  string `mapstructure:"secret"`
	Expires int64  `mapstructure:"expires"`
}

func parseConfig(m map[string]interface{}) (*config, error) {
	c := &config{}
	if err := mapstructure.Decode(m, c); err != nil {
		return nil, errors.Wrap(err, "error decoding conf")
	}
	return c, nil
}

type manager struct {
	conf *config
}

// New returns an implementation of the token manager that uses JWT as tokens.
func New(m map[string]interface{}) (token.Manager, error) {
	c, err := parseConfig(m)
	if err != nil {
		return nil, errors.Wrap(err, "error parsing config")
	}

	if c.Secret == "" {
		return nil, errors.New("jwt: secret is not set")
	}
	if c.Expires == 0 {
		c.Expires = defaultExpiration
	}

	return &manager{conf: c}, nil
}

func (m *manager) MintToken(ctx context.Context, sessionID string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = time.Duration(m.conf.Expires) * time.Second
	}
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   sessionID,
		Audience:  jwt.ClaimStrings{audience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}

	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tkn, err := t.SignedString([]byte(m.conf.Secret))
	if err != nil {
		return "", errors.Wrapf(err, "error signing token for session %s", sessionID)
	}
	return tkn, nil
}

func (m *manager) DismantleToken(ctx context.Context, tkn string) (*token.Claims, error) {
	t, err := jwt.ParseWithClaims(tkn, &jwt.RegisteredClaims{}, func(t *jwt.Token) (interface{}, error) {
		return []byte(m.conf.Secret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(audience),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, errtypes.Expired("token expired")
		}
		return nil, errtypes.InvalidCredentials("token invalid")
	}

	claims, ok := t.Claims.(*jwt.RegisteredClaims)
	if !ok || !t.Valid || claims.Subject == "" {
		return nil, errtypes.InvalidCredentials("token invalid")
	}

	return &token.Claims{
		SessionID: claims.Subject,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}
