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

package wopisession

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNormalizePermissions(t *testing.T) {
	tests := []struct {
		name string
		in   []string
		want []string
	}{
		{"empty gets view", nil, []string{"view"}},
		{"view only", []string{"view"}, []string{"view"}},
		{"edit implies view", []string{"edit"}, []string{"view", "edit"}},
		{"mixed case and spaces", []string{" EDIT "}, []string{"view", "edit"}},
		{"unknown names dropped", []string{"admin", "delete"}, []string{"view"}},
		{"duplicates collapse", []string{"edit", "edit", "view"}, []string{"view", "edit"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizePermissions(tt.in))
		})
	}
}

func TestSessionHelpers(t *testing.T) {
	now := time.Now()

	s := &Session{ExpiresAt: now.Add(time.Minute), Permissions: []string{"view"}, Account: "app"}
	assert.False(t, s.Expired(now))
	assert.True(t, s.Expired(now.Add(2*time.Minute)))
	assert.False(t, s.CanWrite())
	assert.Equal(t, "app", s.DisplayName())

	s.Permissions = []string{"view", "edit"}
	s.User = "Jane Doe"
	assert.True(t, s.CanWrite())
	assert.Equal(t, "Jane Doe", s.DisplayName())
}
