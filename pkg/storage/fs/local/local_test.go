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

package local

import (
	"context"
	"testing"

	"github.com/genropy/wopiserver/pkg/errtypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRequiresRoot(t *testing.T) {
	_, err := New(map[string]interface{}{})
	assert.Error(t, err)
}

func TestWriteReadRoundTrip(t *testing.T) {
	fs, err := New(map[string]interface{}{"root": t.TempDir()})
	require.NoError(t, err)
	ctx := context.Background()

	n, err := fs.Node("a/b.docx")
	require.NoError(t, err)

	exists, err := n.Exists(ctx)
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, n.WriteBytes(ctx, []byte("content")))

	exists, err = n.Exists(ctx)
	require.NoError(t, err)
	assert.True(t, exists)

	size, err := n.Size(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 7, size)

	data, err := n.ReadBytes(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("content"), data)

	mtime, err := n.Mtime(ctx)
	require.NoError(t, err)
	assert.False(t, mtime.IsZero())

	assert.Equal(t, "b.docx", n.Basename())
	assert.Equal(t, "application/vnd.openxmlformats-officedocument.wordprocessingml.document", n.Mimetype())
}

func TestMissingFileErrors(t *testing.T) {
	fs, err := New(map[string]interface{}{"root": t.TempDir()})
	require.NoError(t, err)
	ctx := context.Background()

	n, err := fs.Node("missing.txt")
	require.NoError(t, err)

	_, err = n.Size(ctx)
	_, ok := err.(errtypes.IsNotFound)
	assert.True(t, ok)

	_, err = n.ReadBytes(ctx)
	_, ok = err.(errtypes.IsNotFound)
	assert.True(t, ok)
}

func TestTraversalRejected(t *testing.T) {
	fs, err := New(map[string]interface{}{"root": t.TempDir()})
	require.NoError(t, err)

	// path.Clean collapses the escape inside the root, never above it
	n, err := fs.Node("../../etc/passwd")
	require.NoError(t, err)
	data, err := n.ReadBytes(context.Background())
	assert.Error(t, err)
	assert.Nil(t, data)
}

func TestVersionsUnsupported(t *testing.T) {
	fs, err := New(map[string]interface{}{"root": t.TempDir()})
	require.NoError(t, err)
	ctx := context.Background()

	assert.False(t, fs.Capabilities().Versioning)

	_, err = fs.NodeVersion("a", "v1")
	_, ok := err.(errtypes.IsNotSupported)
	assert.True(t, ok)

	// unversioned backends report no revisions even after a write
	n, err := fs.Node("a/b.docx")
	require.NoError(t, err)
	require.NoError(t, n.WriteBytes(ctx, []byte("content")))

	versions, err := n.Versions(ctx)
	require.NoError(t, err)
	assert.Empty(t, versions)

	count, err := n.VersionCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}
