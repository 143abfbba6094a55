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

package commandlog

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/genropy/wopiserver/pkg/store"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogAppendsRows(t *testing.T) {
	db, err := store.Open("sqlite3", filepath.Join(t.TempDir(), "audit.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	l, err := New(db)
	require.NoError(t, err)

	ctx := context.Background()
	l.Log(ctx, &Entry{
		TenantID: "default",
		Account:  "app",
		Command:  "session.create",
		Details:  map[string]interface{}{"session_id": "s1"},
	})
	l.Log(ctx, &Entry{
		TenantID: "default",
		Account:  "app",
		Command:  "wopi.get_file",
	})

	rows, err := db.Query("SELECT id, command, details, timestamp FROM command_log ORDER BY timestamp")
	require.NoError(t, err)
	defer rows.Close()

	var ids []string
	var commands []string
	for rows.Next() {
		var id, command, details, ts string
		require.NoError(t, rows.Scan(&id, &command, &details, &ts))

		// every row gets its own uuid and well-formed details
		_, err := uuid.Parse(id)
		require.NoError(t, err)
		var decoded map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(details), &decoded))
		assert.NotEmpty(t, ts)

		ids = append(ids, id)
		commands = append(commands, command)
	}
	require.NoError(t, rows.Err())

	require.Len(t, ids, 2)
	assert.NotEqual(t, ids[0], ids[1])
	assert.ElementsMatch(t, []string{"session.create", "wopi.get_file"}, commands)
}
