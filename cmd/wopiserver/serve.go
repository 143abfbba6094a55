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
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/genropy/wopiserver/internal/http/interceptors/appctx"
	loginterceptor "github.com/genropy/wopiserver/internal/http/interceptors/log"
	pkgappctx "github.com/genropy/wopiserver/pkg/appctx"
	sessionssvc "github.com/genropy/wopiserver/internal/http/services/sessions"
	wopisvc "github.com/genropy/wopiserver/internal/http/services/wopi"
	"github.com/genropy/wopiserver/pkg/callback"
	"github.com/genropy/wopiserver/pkg/commandlog"
	"github.com/genropy/wopiserver/pkg/editor"
	"github.com/genropy/wopiserver/pkg/rhttp"
	"github.com/genropy/wopiserver/pkg/rhttp/global"
	storageregsql "github.com/genropy/wopiserver/pkg/storagereg/manager/sql"
	"github.com/genropy/wopiserver/pkg/store"
	tenantsql "github.com/genropy/wopiserver/pkg/tenant/manager/sql"
	jwtmgr "github.com/genropy/wopiserver/pkg/token/manager/jwt"
	"github.com/genropy/wopiserver/pkg/wopisession"
	sessionsql "github.com/genropy/wopiserver/pkg/wopisession/store/sql"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the WOPI proxy",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := runServe(); err != nil {
				return &serviceError{err: err}
			}
			return nil
		},
	}
}

func runServe() error {
	log, err := pkgappctx.NewLogger(os.Stderr,
		viper.GetString("log.level"), viper.GetString("log.mode"))
	if err != nil {
		return err
	}

	secret := viper.GetString("token.secret")
	if secret == "" {
		return fmt.Errorf("token.secret is not set")
	}

	db, err := store.Open(viper.GetString("db.driver"), viper.GetString("db.dsn"))
	if err != nil {
		return err
	}
	defer db.Close()

	tenants, err := tenantsql.New(db)
	if err != nil {
		return err
	}
	storages, err := storageregsql.New(db)
	if err != nil {
		return err
	}
	sessionStore, err := sessionsql.New(db)
	if err != nil {
		return err
	}
	audit, err := commandlog.New(db)
	if err != nil {
		return err
	}

	tokens, err := jwtmgr.New(map[string]interface{}{
		"secret":  secret,
		"expires": viper.GetInt64("token.expires"),
	})
	if err != nil {
		return err
	}

	ctx := context.Background()
	if tkn, err := tenants.EnsureDefault(ctx); err != nil {
		return err
	} else if tkn != "" {
		// shown once; the hash is all that is stored
		log.Info().Msgf("created default tenant, api token: %s", tkn)
	}

	dispatcher := callback.New(log, viper.GetInt("callback.workers"))
	defer dispatcher.Stop()

	editors := editor.New(viper.GetString("editor.pool_url"))
	sessions := wopisession.NewManager(sessionStore, tokens, tenants, storages,
		editors, dispatcher, audit, viper.GetString("proxy.base_url"))

	services := map[string]global.Service{
		"wopi":     wopisvc.New(sessions, tokens, tenants, storages, dispatcher, audit),
		"sessions": sessionssvc.New(sessions, tenants),
	}

	requestTimeout := time.Duration(viper.GetInt("request.timeout")) * time.Second
	server, err := rhttp.New(
		rhttp.WithServices(services),
		rhttp.WithMiddlewares([]rhttp.Middleware{
			appctx.New(log, requestTimeout),
			loginterceptor.New(),
		}),
		rhttp.WithCertAndKeyFiles(viper.GetString("http.certfile"), viper.GetString("http.keyfile")),
		rhttp.WithLogger(log),
	)
	if err != nil {
		return err
	}

	ln, err := net.Listen("tcp", viper.GetString("http.address"))
	if err != nil {
		return err
	}

	cleanupCtx, cancelCleanup := context.WithCancel(ctx)
	defer cancelCleanup()
	go cleanupLoop(cleanupCtx, log, sessions)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info().Msgf("signal %s received, shutting down", sig)
		cancelCleanup()
		if err := server.GracefulStop(); err != nil {
			log.Error().Err(err).Msg("error stopping server")
		}
	}()

	return server.Start(ln)
}

// cleanupLoop sweeps expired sessions periodically.
func cleanupLoop(ctx context.Context, log zerolog.Logger, sessions *wopisession.Manager) {
	interval := time.Duration(viper.GetInt("cleanup.interval")) * time.Second
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			res, err := sessions.Cleanup(ctx, false)
			if err != nil {
				log.Error().Err(err).Msg("session cleanup failed")
				continue
			}
			if res.ExpiredCount > 0 {
				log.Info().Int("expired", res.ExpiredCount).
					Int("locks_released", res.LockReleasedCount).
					Msg("session cleanup")
			}
		}
	}
}
