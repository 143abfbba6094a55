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

package main

import (
	"context"
	"database/sql"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/genropy/wopiserver/pkg/callback"
	"github.com/genropy/wopiserver/pkg/commandlog"
	"github.com/genropy/wopiserver/pkg/editor"
	storageregsql "github.com/genropy/wopiserver/pkg/storagereg/manager/sql"
	tenantsql "github.com/genropy/wopiserver/pkg/tenant/manager/sql"
	jwtmgr "github.com/genropy/wopiserver/pkg/token/manager/jwt"
	"github.com/genropy/wopiserver/pkg/wopisession"
	sessionsql "github.com/genropy/wopiserver/pkg/wopisession/store/sql"
)

// buildSessionManager wires the session manager for one-shot admin
// commands. It shares the server configuration so closes and sweeps
// emit the same callbacks and audit rows.
func buildSessionManager(db *sql.DB) (*wopisession.Manager, *callback.Dispatcher, error) {
	tenants, err := tenantsql.New(db)
	if err != nil {
		return nil, nil, err
	}
	storages, err := storageregsql.New(db)
	if err != nil {
		return nil, nil, err
	}
	sessionStore, err := sessionsql.New(db)
	if err != nil {
		return nil, nil, err
	}
	audit, err := commandlog.New(db)
	if err != nil {
		return nil, nil, err
	}

	secret := viper.GetString("token.secret")
	if secret == "" {
		// admin commands never mint tokens, a placeholder keeps the
		// manager constructible without server credentials
		secret = "admin-cli"
	}
	tokens, err := jwtmgr.New(map[string]interface{}{"secret": secret})
	if err != nil {
		return nil, nil, err
	}

	dispatcher := callback.New(zerolog.Nop(), 1)
	editors := editor.New(viper.GetString("editor.pool_url"))
	mgr := wopisession.NewManager(sessionStore, tokens, tenants, storages,
		editors, dispatcher, audit, viper.GetString("proxy.base_url"))
	return mgr, dispatcher, nil
}

func newSessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect and manage editing sessions",
	}

	var listTenant string
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List active sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDB()
			if err != nil {
				return err
			}
			defer db.Close()

			mgr, dispatcher, err := buildSessionManager(db)
			if err != nil {
				return &serviceError{err: err}
			}
			defer dispatcher.Stop()

			sessions, err := mgr.Store().ListActive(context.Background(), listTenant)
			if err != nil {
				return &serviceError{err: err}
			}
			return printJSON(sessions)
		},
	}
	listCmd.Flags().StringVar(&listTenant, "tenant", "", "filter by tenant id")
	cmd.AddCommand(listCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "get <id>",
		Short: "Show one session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDB()
			if err != nil {
				return err
			}
			defer db.Close()

			mgr, dispatcher, err := buildSessionManager(db)
			if err != nil {
				return &serviceError{err: err}
			}
			defer dispatcher.Stop()

			sess, err := mgr.Store().GetByID(context.Background(), args[0])
			if err != nil {
				return err
			}
			return printJSON(sess)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "close <id>",
		Short: "Close a session, releasing its lock",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDB()
			if err != nil {
				return err
			}
			defer db.Close()

			mgr, dispatcher, err := buildSessionManager(db)
			if err != nil {
				return &serviceError{err: err}
			}
			defer dispatcher.Stop()

			return mgr.Close(context.Background(), args[0])
		},
	})

	var dryRun bool
	cleanupCmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Remove expired sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDB()
			if err != nil {
				return err
			}
			defer db.Close()

			mgr, dispatcher, err := buildSessionManager(db)
			if err != nil {
				return &serviceError{err: err}
			}
			defer dispatcher.Stop()

			res, err := mgr.Cleanup(context.Background(), dryRun)
			if err != nil {
				return &serviceError{err: err}
			}
			return printJSON(res)
		},
	}
	cleanupCmd.Flags().BoolVar(&dryRun, "dry-run", false, "count without deleting")
	cmd.AddCommand(cleanupCmd)

	return cmd
}
