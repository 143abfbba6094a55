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
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/genropy/wopiserver/pkg/storagereg"
	storageregsql "github.com/genropy/wopiserver/pkg/storagereg/manager/sql"
)

func newStoragesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "storages",
		Short: "Manage per-tenant storage backends",
	}

	var listTenant string
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List storage backends",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDB()
			if err != nil {
				return err
			}
			defer db.Close()

			reg, err := storageregsql.New(db)
			if err != nil {
				return &serviceError{err: err}
			}
			defs, err := reg.ListDefinitions(context.Background(), listTenant)
			if err != nil {
				return &serviceError{err: err}
			}
			return printJSON(defs)
		},
	}
	listCmd.Flags().StringVar(&listTenant, "tenant", "", "filter by tenant id")
	cmd.AddCommand(listCmd)

	var (
		addProtocol   string
		addConfigJSON string
		addConfigKVs  []string
	)
	addCmd := &cobra.Command{
		Use:   "add <tenant-id> <name>",
		Short: "Add a storage backend",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			conf := map[string]interface{}{}
			if addConfigJSON != "" {
				if err := json.Unmarshal([]byte(addConfigJSON), &conf); err != nil {
					return fmt.Errorf("invalid --config-json: %w", err)
				}
			}
			for _, kv := range addConfigKVs {
				parts := strings.SplitN(kv, "=", 2)
				if len(parts) != 2 {
					return fmt.Errorf("invalid --set %q, want key=value", kv)
				}
				conf[parts[0]] = parts[1]
			}

			db, err := openDB()
			if err != nil {
				return err
			}
			defer db.Close()

			reg, err := storageregsql.New(db)
			if err != nil {
				return &serviceError{err: err}
			}
			return reg.AddDefinition(context.Background(), &storagereg.Definition{
				TenantID: args[0],
				Name:     args[1],
				Protocol: addProtocol,
				Config:   conf,
			})
		},
	}
	addCmd.Flags().StringVar(&addProtocol, "protocol", "local", "storage protocol: local, s3 or webdav")
	addCmd.Flags().StringVar(&addConfigJSON, "config-json", "", "driver config as a JSON object")
	addCmd.Flags().StringArrayVar(&addConfigKVs, "set", nil, "driver config entry key=value, repeatable")
	cmd.AddCommand(addCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "remove <tenant-id> <name>",
		Short: "Remove a storage backend",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDB()
			if err != nil {
				return err
			}
			defer db.Close()

			reg, err := storageregsql.New(db)
			if err != nil {
				return &serviceError{err: err}
			}
			return reg.RemoveDefinition(context.Background(), args[0], args[1])
		},
	})

	return cmd
}
