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

// wopiserver is a multi-tenant WOPI proxy: it brokers document
// editing between client applications and WOPI-compatible office
// editors, authenticating each editor request and delegating file I/O
// to pluggable storage backends.
package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	// Storage backend drivers register themselves here.
	_ "github.com/genropy/wopiserver/pkg/storage/fs/local"
	_ "github.com/genropy/wopiserver/pkg/storage/fs/s3"
	_ "github.com/genropy/wopiserver/pkg/storage/fs/webdav"
)

// exit codes: 0 success, 1 invalid input, 2 service failure.
const (
	exitOK      = 0
	exitUsage   = 1
	exitService = 2
)

// serviceError marks failures that are not the caller's fault.
type serviceError struct{ err error }

func (e *serviceError) Error() string { return e.err.Error() }
func (e *serviceError) Unwrap() error { return e.err }

var cfgFile string

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "wopiserver",
		Short:         "Multi-tenant WOPI proxy",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
	}
	root.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default ./wopiserver.toml)")

	root.AddCommand(newServeCmd())
	root.AddCommand(newTenantsCmd())
	root.AddCommand(newStoragesCmd())
	root.AddCommand(newSessionsCmd())
	return root
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("wopiserver")
		viper.SetConfigType("toml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("/etc/wopiserver")
	}

	viper.SetEnvPrefix("wopi")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("http.address", ":8880")
	viper.SetDefault("db.driver", "sqlite3")
	viper.SetDefault("db.dsn", "wopiserver.db")
	viper.SetDefault("token.expires", 3600)
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.mode", "console")
	viper.SetDefault("cleanup.interval", 300)
	viper.SetDefault("callback.workers", 4)
	viper.SetDefault("request.timeout", 30)

	if err := viper.ReadInConfig(); err != nil {
		// the config file is optional; env and defaults may be enough
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config: %w", err)
		}
	}
	return nil
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		var se *serviceError
		if errors.As(err, &se) {
			os.Exit(exitService)
		}
		os.Exit(exitUsage)
	}
	os.Exit(exitOK)
}
