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

// Package commandlog records every observable session and protocol
// operation in an append-only table. Writes sit on the request hot
// path but must never fail it: errors degrade to log-and-continue.
package commandlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/genropy/wopiserver/pkg/appctx"
	"github.com/genropy/wopiserver/pkg/store"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Entry is one audit row.
type Entry struct {
	TenantID  string
	Account   string
	User      string
	Command   string
	Details   map[string]interface{}
	Timestamp time.Time
}

// Logger appends audit entries.
type Logger interface {
	// Log appends the entry. Implementations must not fail the
	// calling request; persistent errors are reported through the
	// process log only.
	Log(ctx context.Context, e *Entry)
}

// New returns an audit logger writing to the command_log table.
func New(db *sql.DB) (Logger, error) {
	if err := initTable(db); err != nil {
		return nil, err
	}
	return &sqlLogger{db: db}, nil
}

type sqlLogger struct {
	db *sql.DB
}

// initTable sticks to the DDL subset sqlite and mysql share: VARCHAR
// for keyed and defaulted columns, no TEXT defaults, uuid ids instead
// of driver-specific auto increment.
func initTable(db *sql.DB) error {
	stmt := `CREATE TABLE IF NOT EXISTS command_log (
		id VARCHAR(36) PRIMARY KEY,
		tenant_id VARCHAR(255) NOT NULL,
		account VARCHAR(255) NOT NULL DEFAULT '',
		user VARCHAR(255) NOT NULL DEFAULT '',
		command VARCHAR(128) NOT NULL,
		details TEXT NOT NULL,
		timestamp VARCHAR(40) NOT NULL
	)`
	if _, err := db.Exec(stmt); err != nil {
		return errors.Wrap(err, "commandlog: error creating table")
	}
	return nil
}

func (l *sqlLogger) Log(ctx context.Context, e *Entry) {
	log := appctx.GetLogger(ctx)

	ts := e.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	details := "{}"
	if len(e.Details) > 0 {
		b, err := json.Marshal(e.Details)
		if err != nil {
			log.Error().Err(err).Str("command", e.Command).Msg("commandlog: error encoding details")
		} else {
			details = string(b)
		}
	}

	_, err := l.db.ExecContext(ctx,
		"INSERT INTO command_log (id, tenant_id, account, user, command, details, timestamp) VALUES (?,?,?,?,?,?,?)",
		uuid.NewString(), e.TenantID, e.Account, e.User, e.Command, details, store.FormatTime(ts))
	if err != nil {
		log.Error().Err(err).Str("command", e.Command).Msg("commandlog: error appending entry")
	}
}
