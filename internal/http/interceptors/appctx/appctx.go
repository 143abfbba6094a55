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

// Package appctx creates a context with useful components attached,
// like the request logger, and enforces the per-request deadline.
package appctx

import (
	"context"
	"net/http"
	"time"

	"github.com/genropy/wopiserver/pkg/appctx"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
)

// New returns a new HTTP middleware that stores the log in the context
// with request ID information and applies the request deadline.
func New(log zerolog.Logger, requestTimeout time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return handler(log, requestTimeout, next)
	}
}

func handler(log zerolog.Logger, timeout time.Duration, next http.Handler) http.Handler {
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}

		sub := log.With().Logger()
		if id, ok := hlog.IDFromRequest(r); ok {
			sub = log.With().Str("reqid", id.String()).Logger()
		}
		ctx = appctx.WithLogger(ctx, &sub)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
	return hlog.RequestIDHandler("reqid", "X-Request-Id")(h)
}
