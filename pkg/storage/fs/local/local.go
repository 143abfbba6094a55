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

// Package local implements the storage contract on top of a local
// filesystem directory.
package local

import (
	"context"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/genropy/wopiserver/pkg/errtypes"
	"github.com/genropy/wopiserver/pkg/mime"
	"github.com/genropy/wopiserver/pkg/storage"
	"github.com/genropy/wopiserver/pkg/storage/registry"
	"github.com/google/renameio/v2"
	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
)

func init() {
	registry.Register("local", New)
}

type config struct {
	Root string `mapstructure:"root"`
}

func parseConfig(m map[string]interface{}) (*config, error) {
	c := &config{}
	if err := mapstructure.Decode(m, c); err != nil {
		return nil, errors.Wrap(err, "error decoding conf")
	}
	return c, nil
}

// New returns an implementation of the storage contract that talks to
// a local filesystem.
func New(m map[string]interface{}) (storage.Storage, error) {
	c, err := parseConfig(m)
	if err != nil {
		return nil, err
	}
	if c.Root == "" {
		return nil, errors.New("localfs: root is not set")
	}

	// create root if it does not exist
	if err := os.MkdirAll(c.Root, 0755); err != nil {
		return nil, errors.Wrap(err, "localfs: error creating root")
	}

	return &localFS{root: c.Root}, nil
}

type localFS struct {
	root string
}

var capabilities = storage.Capabilities{
	Read:   true,
	Write:  true,
	Delete: true,
}

func (fs *localFS) Capabilities() storage.Capabilities { return capabilities }

func (fs *localFS) Shutdown() error { return nil }

// addRoot resolves a storage-relative path below the root and rejects
// traversal outside of it.
func (fs *localFS) addRoot(p string) (string, error) {
	np := filepath.Join(fs.root, filepath.FromSlash(path.Clean("/"+p)))
	if np != fs.root && !strings.HasPrefix(np, fs.root+string(filepath.Separator)) {
		return "", errtypes.PermissionDenied(p)
	}
	return np, nil
}

func (fs *localFS) Node(p string) (storage.Node, error) {
	np, err := fs.addRoot(p)
	if err != nil {
		return nil, err
	}
	return &node{abs: np, rel: p}, nil
}

func (fs *localFS) NodeVersion(p, versionID string) (storage.Node, error) {
	return nil, errtypes.NotSupported("localfs: version access")
}

type node struct {
	abs string
	rel string
}

func (n *node) Basename() string { return path.Base(n.rel) }

func (n *node) Mimetype() string { return mime.Detect(n.rel) }

func (n *node) Capabilities() storage.Capabilities { return capabilities }

func (n *node) Exists(ctx context.Context) (bool, error) {
	_, err := os.Stat(n.abs)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, errors.Wrap(err, "localfs: error statting "+n.rel)
}

func (n *node) Size(ctx context.Context) (int64, error) {
	fi, err := os.Stat(n.abs)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, errtypes.NotFound(n.rel)
		}
		return 0, errors.Wrap(err, "localfs: error statting "+n.rel)
	}
	return fi.Size(), nil
}

func (n *node) Mtime(ctx context.Context) (time.Time, error) {
	fi, err := os.Stat(n.abs)
	if err != nil {
		if os.IsNotExist(err) {
			return time.Time{}, errtypes.NotFound(n.rel)
		}
		return time.Time{}, errors.Wrap(err, "localfs: error statting "+n.rel)
	}
	return fi.ModTime(), nil
}

func (n *node) ReadBytes(ctx context.Context) ([]byte, error) {
	data, err := os.ReadFile(n.abs)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errtypes.NotFound(n.rel)
		}
		return nil, errors.Wrap(err, "localfs: error reading "+n.rel)
	}
	return data, nil
}

// WriteBytes replaces the file atomically: the new content is staged
// in a temp file and renamed over the target, so readers never see a
// partial write and a cancelled upload leaves the old content intact.
func (n *node) WriteBytes(ctx context.Context, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(n.abs), 0755); err != nil {
		return errors.Wrap(err, "localfs: error creating parent dir for "+n.rel)
	}
	if err := renameio.WriteFile(n.abs, data, 0644); err != nil {
		return errors.Wrap(err, "localfs: error writing "+n.rel)
	}
	return nil
}

func (n *node) Versions(ctx context.Context) ([]storage.Version, error) {
	return nil, nil
}

func (n *node) VersionCount(ctx context.Context) (int, error) {
	return 0, nil
}
