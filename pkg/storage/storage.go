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

// Package storage defines the uniform contract over heterogeneous
// file backends. The protocol layer only talks to Node and Storage;
// backend selection happens in the driver registry.
package storage

import (
	"context"
	"time"
)

// Capabilities describes what a backend supports. The protocol layer
// may only call what the capabilities permit; drivers return
// errtypes.NotSupported otherwise.
type Capabilities struct {
	Read           bool `json:"read"`
	Write          bool `json:"write"`
	Delete         bool `json:"delete"`
	Versioning     bool `json:"versioning"`
	VersionListing bool `json:"version_listing"`
	VersionAccess  bool `json:"version_access"`
	PresignedURLs  bool `json:"presigned_urls"`
}

// Version identifies one stored revision of a file, newest first in
// listings.
type Version struct {
	ID    string
	Mtime time.Time
	Size  int64
}

// Node is a handle to a single file in a backend.
type Node interface {
	// Basename returns the file name without directories.
	Basename() string
	// Mimetype returns the mimetype, by extension or backend hint.
	Mimetype() string
	// Exists reports whether the file is present.
	Exists(ctx context.Context) (bool, error)
	// Size returns the file size in bytes. It fails if the file is
	// not present.
	Size(ctx context.Context) (int64, error)
	// Mtime returns the last modification time.
	Mtime(ctx context.Context) (time.Time, error)
	// ReadBytes returns the full file content.
	ReadBytes(ctx context.Context) ([]byte, error)
	// WriteBytes replaces the file content atomically. On versioned
	// backends it creates a new version.
	WriteBytes(ctx context.Context, data []byte) error
	// Capabilities returns the backend capability snapshot.
	Capabilities() Capabilities
	// Versions lists stored revisions, newest first. Empty when the
	// backend has no versioning.
	Versions(ctx context.Context) ([]Version, error)
	// VersionCount returns the number of stored revisions, zero when
	// the backend has no versioning.
	VersionCount(ctx context.Context) (int, error)
}

// Storage produces nodes for paths below its configured root.
type Storage interface {
	// Node returns a handle for the given path. The file does not
	// need to exist.
	Node(path string) (Node, error)
	// NodeVersion returns a read-only handle for a specific revision.
	// Backends without version access return errtypes.NotSupported.
	NodeVersion(path, versionID string) (Node, error)
	// Capabilities returns the backend capability snapshot.
	Capabilities() Capabilities
	// Shutdown releases backend resources.
	Shutdown() error
}
