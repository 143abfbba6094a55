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

// Package rhttp provides the HTTP server the proxy services are
// mounted on. Each service claims a path prefix; the server routes by
// longest common prefix and strips the prefix before dispatching.
package rhttp

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/genropy/wopiserver/pkg/rhttp/global"
	"github.com/rs/zerolog"
)

// Middleware wraps a handler with additional behaviour.
type Middleware func(http.Handler) http.Handler

// Config is the functional option type for the server.
type Config func(*Server)

// WithServices sets the services keyed by name.
func WithServices(services map[string]global.Service) Config {
	return func(s *Server) {
		s.services = services
	}
}

// WithMiddlewares sets the middleware chain, outermost first.
func WithMiddlewares(middlewares []Middleware) Config {
	return func(s *Server) {
		s.middlewares = middlewares
	}
}

// WithCertAndKeyFiles enables TLS with the given certificate pair.
func WithCertAndKeyFiles(cert, key string) Config {
	return func(s *Server) {
		s.certFile = cert
		s.keyFile = key
	}
}

// WithLogger sets the server logger.
func WithLogger(log zerolog.Logger) Config {
	return func(s *Server) {
		s.log = log
	}
}

// New returns a new server.
func New(c ...Config) (*Server, error) {
	s := &Server{
		log:        zerolog.Nop(),
		httpServer: &http.Server{},
		services:   map[string]global.Service{},
		handlers:   map[string]http.Handler{},
	}
	for _, cc := range c {
		cc(s)
	}
	s.registerServices()
	return s, nil
}

// Server contains the server info.
type Server struct {
	certFile string
	keyFile  string

	httpServer  *http.Server
	listener    net.Listener
	services    map[string]global.Service
	handlers    map[string]http.Handler // map key is svc prefix
	middlewares []Middleware
	log         zerolog.Logger
}

// Start starts serving on the given listener.
func (s *Server) Start(ln net.Listener) error {
	s.httpServer.Handler = s.getHandler()
	s.listener = ln

	var err error
	if s.certFile != "" && s.keyFile != "" {
		s.log.Info().Msgf("https server listening at https://%s", ln.Addr())
		err = s.httpServer.ServeTLS(ln, s.certFile, s.keyFile)
	} else {
		s.log.Info().Msgf("http server listening at http://%s", ln.Addr())
		err = s.httpServer.Serve(ln)
	}
	if err == nil || err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Stop stops the server with a short deadline.
func (s *Server) Stop() error {
	s.closeServices()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}

// GracefulStop gracefully stops the server, draining in-flight requests.
func (s *Server) GracefulStop() error {
	s.closeServices()
	return s.httpServer.Shutdown(context.Background())
}

// Address returns the network address the server is bound to.
func (s *Server) Address() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *Server) closeServices() {
	for name, svc := range s.services {
		if err := svc.Close(); err != nil {
			s.log.Error().Err(err).Msgf("error closing service %q", name)
		}
	}
}

func (s *Server) registerServices() {
	for name, svc := range s.services {
		s.handlers[svc.Prefix()] = svc.Handler()
		s.log.Info().Msgf("http service enabled: %s@/%s", name, svc.Prefix())
	}
}

func cleanURL(url string) string {
	if len(url) > 0 {
		if url[0] != '/' {
			url = "/" + url
		}
		url = strings.TrimRight(url, "/")
	}
	return url
}

func urlHasPrefix(url, prefix string) bool {
	url = cleanURL(url)
	prefix = cleanURL(prefix)

	partsURL := strings.Split(url, "/")
	partsPrefix := strings.Split(prefix, "/")

	if len(partsPrefix) > len(partsURL) {
		return false
	}

	for i, p := range partsPrefix {
		if p != partsURL[i] {
			return false
		}
	}
	return true
}

func (s *Server) matchHandler(url string) (http.Handler, string, bool) {
	var match string
	for k := range s.handlers {
		if urlHasPrefix(url, k) && len(k) > len(match) {
			match = k
		}
	}
	h, ok := s.handlers[match]
	return h, match, ok
}

func getSubURL(url, prefix string) string {
	// pre cond: prefix is a prefix for url
	// example: url = "/api/v0/", prefix = "/api", res = "/v0"
	url = cleanURL(url)
	prefix = cleanURL(prefix)
	return url[len(prefix):]
}

func (s *Server) getHandler() http.Handler {
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h, url, ok := s.matchHandler(r.URL.Path); ok {
			s.log.Debug().Msgf("http routing: url=%s svc=%s", r.URL.Path, url)
			r.URL.Path = getSubURL(r.URL.Path, url)
			if r.URL.Path == "" {
				r.URL.Path = "/"
			}
			h.ServeHTTP(w, r)
			return
		}

		s.log.Debug().Msgf("http routing: url=%s svc=not-found", r.URL.Path)
		w.WriteHeader(http.StatusNotFound)
	})

	handler := http.Handler(h)
	for _, m := range s.middlewares {
		handler = m(handler)
	}
	return handler
}
