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

// Package store opens the relational database shared by the proxy
// tables. Connections are pooled; every operation acquires and
// releases through the pool so release happens on every exit path.
package store

import (
	"database/sql"
	"time"

	"github.com/pkg/errors"

	// Provides mysql drivers.
	_ "github.com/go-sql-driver/mysql"
	// Provides sqlite drivers.
	_ "github.com/mattn/go-sqlite3"
)

// Open returns a pooled database handle for the given driver
// ("sqlite3" or "mysql") and dsn.
func Open(driver, dsn string) (*sql.DB, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, errors.Wrap(err, "store: error opening DB connection")
	}

	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(time.Hour)
	if driver == "sqlite3" {
		// sqlite serializes writers; a single connection avoids
		// SQLITE_BUSY under concurrent lock transitions.
		db.SetMaxOpenConns(1)
	}
	return db, nil
}

// timeLayout is RFC 3339 with fixed-width nanoseconds. The fixed
// width keeps lexicographic string comparison equal to chronological
// comparison, which the lock and expiry SQL predicates rely on.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// FormatTime renders a timestamp the way the tables store it.
func FormatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// ParseTime reads a timestamp stored by FormatTime. Zero time is
// returned for empty values.
func ParseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, errors.Wrap(err, "store: error parsing timestamp")
	}
	return t, nil
}
