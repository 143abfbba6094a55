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

// Package s3 implements the storage contract on top of an s3
// compatible object store. Buckets with versioning enabled surface
// the object versions through the contract.
package s3

import (
	"bytes"
	"context"
	"io"
	"net/url"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/genropy/wopiserver/pkg/errtypes"
	"github.com/genropy/wopiserver/pkg/mime"
	"github.com/genropy/wopiserver/pkg/storage"
	"github.com/genropy/wopiserver/pkg/storage/registry"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
)

func init() {
	registry.Register("s3", New)
}

type config struct {
	Endpoint   string `mapstructure:"endpoint"`
	Region     string `mapstructure:"region"`
	Bucket     string `mapstructure:"bucket"`
	AccessKey  string `mapstructure:"access_key"`
	SecretKey  string `mapstructure:"secret_key"`
	Prefix     string `mapstructure:"prefix"`
	Versioning bool   `mapstructure:"versioning"`
}

func parseConfig(m map[string]interface{}) (*config, error) {
	c := &config{}
	if err := mapstructure.Decode(m, c); err != nil {
		return nil, errors.Wrap(err, "error decoding conf")
	}
	return c, nil
}

// New returns an implementation of the storage contract backed by an
// s3 compatible blobstore.
func New(m map[string]interface{}) (storage.Storage, error) {
	c, err := parseConfig(m)
	if err != nil {
		return nil, err
	}
	if c.Endpoint == "" || c.Bucket == "" {
		return nil, errors.New("s3fs: endpoint and bucket are required")
	}

	u, err := url.Parse(c.Endpoint)
	if err != nil {
		return nil, errors.Wrap(err, "s3fs: failed to parse endpoint")
	}

	useSSL := u.Scheme != "http"
	client, err := minio.New(u.Host, &minio.Options{
		Region: c.Region,
		Creds:  credentials.NewStaticV4(c.AccessKey, c.SecretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, errors.Wrap(err, "s3fs: failed to setup client")
	}

	return &s3FS{client: client, conf: c}, nil
}

type s3FS struct {
	client *minio.Client
	conf   *config
}

func (fs *s3FS) Capabilities() storage.Capabilities {
	return storage.Capabilities{
		Read:           true,
		Write:          true,
		Delete:         true,
		Versioning:     fs.conf.Versioning,
		VersionListing: fs.conf.Versioning,
		VersionAccess:  fs.conf.Versioning,
		PresignedURLs:  true,
	}
}

func (fs *s3FS) Shutdown() error { return nil }

func (fs *s3FS) key(p string) string {
	key := strings.TrimPrefix(path.Clean("/"+p), "/")
	if fs.conf.Prefix != "" {
		key = path.Join(fs.conf.Prefix, key)
	}
	return key
}

func (fs *s3FS) Node(p string) (storage.Node, error) {
	return &node{fs: fs, key: fs.key(p), rel: p}, nil
}

func (fs *s3FS) NodeVersion(p, versionID string) (storage.Node, error) {
	if !fs.conf.Versioning {
		return nil, errtypes.NotSupported("s3fs: version access")
	}
	return &node{fs: fs, key: fs.key(p), rel: p, versionID: versionID}, nil
}

type node struct {
	fs        *s3FS
	key       string
	rel       string
	versionID string
}

func (n *node) Basename() string { return path.Base(n.rel) }

func (n *node) Mimetype() string { return mime.Detect(n.rel) }

func (n *node) Capabilities() storage.Capabilities { return n.fs.Capabilities() }

func (n *node) stat(ctx context.Context) (minio.ObjectInfo, error) {
	opts := minio.StatObjectOptions{}
	if n.versionID != "" {
		opts.VersionID = n.versionID
	}
	return n.fs.client.StatObject(ctx, n.fs.conf.Bucket, n.key, opts)
}

func isNotFound(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.Code == "NoSuchKey" || resp.Code == "NoSuchVersion" || resp.StatusCode == 404
}

func (n *node) Exists(ctx context.Context) (bool, error) {
	_, err := n.stat(ctx)
	if err == nil {
		return true, nil
	}
	if isNotFound(err) {
		return false, nil
	}
	return false, errors.Wrap(err, "s3fs: error statting "+n.key)
}

func (n *node) Size(ctx context.Context) (int64, error) {
	oi, err := n.stat(ctx)
	if err != nil {
		if isNotFound(err) {
			return 0, errtypes.NotFound(n.rel)
		}
		return 0, errors.Wrap(err, "s3fs: error statting "+n.key)
	}
	return oi.Size, nil
}

func (n *node) Mtime(ctx context.Context) (time.Time, error) {
	oi, err := n.stat(ctx)
	if err != nil {
		if isNotFound(err) {
			return time.Time{}, errtypes.NotFound(n.rel)
		}
		return time.Time{}, errors.Wrap(err, "s3fs: error statting "+n.key)
	}
	return oi.LastModified, nil
}

func (n *node) ReadBytes(ctx context.Context) ([]byte, error) {
	opts := minio.GetObjectOptions{}
	if n.versionID != "" {
		opts.VersionID = n.versionID
	}
	obj, err := n.fs.client.GetObject(ctx, n.fs.conf.Bucket, n.key, opts)
	if err != nil {
		return nil, errors.Wrap(err, "s3fs: error getting "+n.key)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		if isNotFound(err) {
			return nil, errtypes.NotFound(n.rel)
		}
		return nil, errors.Wrap(err, "s3fs: error reading "+n.key)
	}
	return data, nil
}

// WriteBytes relies on s3 PUT semantics: the object switches to the
// new content atomically once the upload completes, and a cancelled
// upload leaves the previous content in place.
func (n *node) WriteBytes(ctx context.Context, data []byte) error {
	if n.versionID != "" {
		return errtypes.NotSupported("s3fs: writing to a version")
	}
	_, err := n.fs.client.PutObject(ctx, n.fs.conf.Bucket, n.key,
		bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: n.Mimetype()})
	if err != nil {
		return errors.Wrap(err, "s3fs: error putting "+n.key)
	}
	return nil
}

func (n *node) Versions(ctx context.Context) ([]storage.Version, error) {
	if !n.fs.conf.Versioning {
		return nil, nil
	}

	var versions []storage.Version
	for oi := range n.fs.client.ListObjects(ctx, n.fs.conf.Bucket, minio.ListObjectsOptions{
		Prefix:       n.key,
		WithVersions: true,
	}) {
		if oi.Err != nil {
			return nil, errors.Wrap(oi.Err, "s3fs: error listing versions of "+n.key)
		}
		if oi.Key != n.key || oi.IsDeleteMarker {
			continue
		}
		versions = append(versions, storage.Version{
			ID:    oi.VersionID,
			Mtime: oi.LastModified,
			Size:  oi.Size,
		})
	}

	// newest first
	sort.Slice(versions, func(i, j int) bool {
		return versions[i].Mtime.After(versions[j].Mtime)
	})
	return versions, nil
}

func (n *node) VersionCount(ctx context.Context) (int, error) {
	versions, err := n.Versions(ctx)
	if err != nil {
		return 0, err
	}
	return len(versions), nil
}
