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

package appctx

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLoggerRejectsBadLevel(t *testing.T) {
	_, err := NewLogger(&bytes.Buffer{}, "chatty", "json")
	require.Error(t, err)
}

func TestNewLoggerEmitsJSONLines(t *testing.T) {
	var buf bytes.Buffer
	log, err := NewLogger(&buf, "info", "json")
	require.NoError(t, err)

	log.Debug().Msg("filtered out")
	log.Info().Str("tenant", "acme").Msg("kept")

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "kept", line["message"])
	assert.Equal(t, "acme", line["tenant"])
}

func TestLoggerRoundTripsThroughContext(t *testing.T) {
	var buf bytes.Buffer
	log, err := NewLogger(&buf, "info", "json")
	require.NoError(t, err)

	ctx := WithLogger(context.Background(), &log)
	GetLogger(ctx).Info().Msg("from context")
	assert.Contains(t, buf.String(), "from context")
}

func TestGetLoggerWithoutOneIsDisabled(t *testing.T) {
	log := GetLogger(context.Background())
	require.NotNil(t, log)
	// writes on the fallback logger go nowhere and must not panic
	log.Info().Msg("dropped")
}
