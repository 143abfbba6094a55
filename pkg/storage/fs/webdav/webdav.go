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

// Package webdav implements the storage contract against a remote
// WebDAV endpoint.
package webdav

import (
	"context"
	"os"
	"path"
	"time"

	"github.com/genropy/wopiserver/pkg/errtypes"
	"github.com/genropy/wopiserver/pkg/mime"
	"github.com/genropy/wopiserver/pkg/storage"
	"github.com/genropy/wopiserver/pkg/storage/registry"
	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
	"github.com/studio-b12/gowebdav"
)

func init() {
	registry.Register("webdav", New)
}

type config struct {
	Endpoint string `mapstructure:"endpoint"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Root     string `mapstructure:"root"`
}

func parseConfig(m map[string]interface{}) (*config, error) {
	c := &config{}
	if err := mapstructure.Decode(m, c); err != nil {
		return nil, errors.Wrap(err, "error decoding conf")
	}
	return c, nil
}

// New returns an implementation of the storage contract that talks to
// a WebDAV server.
func New(m map[string]interface{}) (storage.Storage, error) {
	c, err := parseConfig(m)
	if err != nil {
		return nil, err
	}
	if c.Endpoint == "" {
		return nil, errors.New("webdavfs: endpoint is not set")
	}

	client := gowebdav.NewClient(c.Endpoint, c.Username, c.Password)
	return &webdavFS{client: client, conf: c}, nil
}

type webdavFS struct {
	client *gowebdav.Client
	conf   *config
}

var capabilities = storage.Capabilities{
	Read:   true,
	Write:  true,
	Delete: true,
}

func (fs *webdavFS) Capabilities() storage.Capabilities { return capabilities }

func (fs *webdavFS) Shutdown() error { return nil }

func (fs *webdavFS) remote(p string) string {
	return path.Join("/", fs.conf.Root, path.Clean("/"+p))
}

func (fs *webdavFS) Node(p string) (storage.Node, error) {
	return &node{fs: fs, remote: fs.remote(p), rel: p}, nil
}

func (fs *webdavFS) NodeVersion(p, versionID string) (storage.Node, error) {
	return nil, errtypes.NotSupported("webdavfs: version access")
}

type node struct {
	fs     *webdavFS
	remote string
	rel    string
}

func (n *node) Basename() string { return path.Base(n.rel) }

func (n *node) Mimetype() string { return mime.Detect(n.rel) }

func (n *node) Capabilities() storage.Capabilities { return capabilities }

func (n *node) stat(ctx context.Context) (os.FileInfo, error) {
	fi, err := n.fs.client.Stat(n.remote)
	if err != nil {
		if gowebdav.IsErrNotFound(err) {
			return nil, errtypes.NotFound(n.rel)
		}
		return nil, errors.Wrap(err, "webdavfs: error statting "+n.remote)
	}
	return fi, nil
}

func (n *node) Exists(ctx context.Context) (bool, error) {
	_, err := n.stat(ctx)
	if err == nil {
		return true, nil
	}
	if _, ok := err.(errtypes.IsNotFound); ok {
		return false, nil
	}
	return false, err
}

func (n *node) Size(ctx context.Context) (int64, error) {
	fi, err := n.stat(ctx)
	if err != nil {
		return 0, err
	}
	return fi.Size(), nil
}

func (n *node) Mtime(ctx context.Context) (time.Time, error) {
	fi, err := n.stat(ctx)
	if err != nil {
		return time.Time{}, err
	}
	return fi.ModTime(), nil
}

func (n *node) ReadBytes(ctx context.Context) ([]byte, error) {
	data, err := n.fs.client.Read(n.remote)
	if err != nil {
		if gowebdav.IsErrNotFound(err) {
			return nil, errtypes.NotFound(n.rel)
		}
		return nil, errors.Wrap(err, "webdavfs: error reading "+n.remote)
	}
	return data, nil
}

func (n *node) WriteBytes(ctx context.Context, data []byte) error {
	if err := n.fs.client.MkdirAll(path.Dir(n.remote), 0755); err != nil {
		return errors.Wrap(err, "webdavfs: error creating parent dir for "+n.remote)
	}
	if err := n.fs.client.Write(n.remote, data, 0644); err != nil {
		return errors.Wrap(err, "webdavfs: error writing "+n.remote)
	}
	return nil
}

func (n *node) Versions(ctx context.Context) ([]storage.Version, error) {
	return nil, nil
}

func (n *node) VersionCount(ctx context.Context) (int, error) {
	return 0, nil
}
