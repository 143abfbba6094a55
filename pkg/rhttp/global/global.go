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

// Package global defines the contract HTTP services must fulfil to be
// mounted on the rhttp server. Services are constructed explicitly at
// startup and handed to the server; there is no runtime discovery.
package global

import "net/http"

// Service represents a HTTP service. Authentication is the service's
// own concern: the WOPI surface checks per-session access tokens, the
// management surface checks tenant API tokens.
type Service interface {
	Handler() http.Handler
	Prefix() string
	Close() error
}
