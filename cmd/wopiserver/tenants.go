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
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/genropy/wopiserver/pkg/store"
	"github.com/genropy/wopiserver/pkg/tenant"
	tenantsql "github.com/genropy/wopiserver/pkg/tenant/manager/sql"
)

func openDB() (*sql.DB, error) {
	db, err := store.Open(viper.GetString("db.driver"), viper.GetString("db.dsn"))
	if err != nil {
		return nil, &serviceError{err: err}
	}
	return db, nil
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTenantsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tenants",
		Short: "Manage tenants",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List tenants",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDB()
			if err != nil {
				return err
			}
			defer db.Close()

			mgr, err := tenantsql.New(db)
			if err != nil {
				return &serviceError{err: err}
			}
			tenants, err := mgr.ListTenants(context.Background())
			if err != nil {
				return &serviceError{err: err}
			}
			return printJSON(tenants)
		},
	})

	var (
		addName         string
		addMode         string
		addEditorURL    string
		addCallbackURL  string
		addCallbackAuth string
		addInactive     bool
	)
	addCmd := &cobra.Command{
		Use:   "add <id>",
		Short: "Add a tenant and print its API token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDB()
			if err != nil {
				return err
			}
			defer db.Close()

			mgr, err := tenantsql.New(db)
			if err != nil {
				return &serviceError{err: err}
			}
			tkn, err := mgr.AddTenant(context.Background(), &tenant.Tenant{
				ID:              args[0],
				Name:            addName,
				Active:          !addInactive,
				EditorMode:      tenant.Mode(addMode),
				EditorURL:       addEditorURL,
				CallbackBaseURL: addCallbackURL,
				CallbackAuth:    addCallbackAuth,
			})
			if err != nil {
				return err
			}
			// shown once; only the hash is stored
			fmt.Println(tkn)
			return nil
		},
	}
	addCmd.Flags().StringVar(&addName, "name", "", "display name")
	addCmd.Flags().StringVar(&addMode, "mode", "pool", "editor mode: pool, own or disabled")
	addCmd.Flags().StringVar(&addEditorURL, "editor-url", "", "editor base URL (mode own)")
	addCmd.Flags().StringVar(&addCallbackURL, "callback-url", "", "callback base URL")
	addCmd.Flags().StringVar(&addCallbackAuth, "callback-auth", "", "callback Authorization header")
	addCmd.Flags().BoolVar(&addInactive, "inactive", false, "create the tenant disabled")
	cmd.AddCommand(addCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "remove <id>",
		Short: "Remove a tenant",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDB()
			if err != nil {
				return err
			}
			defer db.Close()

			mgr, err := tenantsql.New(db)
			if err != nil {
				return &serviceError{err: err}
			}
			return mgr.RemoveTenant(context.Background(), args[0])
		},
	})

	return cmd
}
