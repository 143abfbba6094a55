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

// Package registry holds the storage driver constructors keyed by
// protocol name.
package registry

import "github.com/genropy/wopiserver/pkg/storage"

// NewFunc is the function that storage drivers register to be
// constructed from a configuration map.
type NewFunc func(m map[string]interface{}) (storage.Storage, error)

// NewFuncs is a map containing all the registered storage drivers.
var NewFuncs = map[string]NewFunc{}

// Register registers a new storage driver constructor.
// Not safe for concurrent use, safe for use from package init.
func Register(name string, f NewFunc) {
	NewFuncs[name] = f
}
