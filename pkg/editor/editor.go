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

// Package editor resolves the URL the browser loads to edit a
// document. The editor base comes from the tenant (mode "own") or the
// process-wide pool (mode "pool"); the action path comes from the
// editor's WOPI discovery document, cached for a short TTL.
package editor

import (
	"context"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/beevik/etree"
	"github.com/genropy/wopiserver/pkg/appctx"
	"github.com/genropy/wopiserver/pkg/errtypes"
	"github.com/genropy/wopiserver/pkg/tenant"
	"github.com/jellydator/ttlcache/v2"
	"github.com/pkg/errors"
)

const discoveryTTL = 60 * time.Second

// fallbackAction is used when the editor exposes no discovery
// document; it matches the Collabora browser bundle layout.
const fallbackAction = "/browser/dist/cool.html"

// Resolver composes editor URLs for sessions.
type Resolver struct {
	poolURL string
	client  *http.Client
	cache   *ttlcache.Cache
}

// New returns a resolver with the given pool editor base URL, which
// may be empty when every tenant runs its own editor.
func New(poolURL string) *Resolver {
	cache := ttlcache.NewCache()
	_ = cache.SetTTL(discoveryTTL)
	cache.SkipTTLExtensionOnHit(true)

	return &Resolver{
		poolURL: strings.TrimRight(poolURL, "/"),
		client:  &http.Client{Timeout: 10 * time.Second},
		cache:   cache,
	}
}

// BaseURL returns the editor base for the tenant, or
// errtypes.Disabled when the tenant cannot open documents.
func (r *Resolver) BaseURL(t *tenant.Tenant) (string, error) {
	switch t.EditorMode {
	case tenant.ModeOwn:
		return strings.TrimRight(t.EditorURL, "/"), nil
	case tenant.ModePool:
		if r.poolURL == "" {
			return "", errtypes.InternalError("editor: no pool editor configured")
		}
		return r.poolURL, nil
	case tenant.ModeDisabled:
		return "", errtypes.Disabled("editor disabled for tenant " + t.ID)
	default:
		return "", errtypes.InternalError("editor: unknown editor mode " + string(t.EditorMode))
	}
}

// ActionURL returns the full browser URL for editing a file with the
// given extension, from the editor's discovery document when it has
// one.
func (r *Resolver) ActionURL(ctx context.Context, base, ext string) (string, error) {
	actions, err := r.discover(ctx, base)
	if err != nil {
		appctx.GetLogger(ctx).Warn().Err(err).Str("editor", base).
			Msg("editor discovery failed, using fallback action")
		return base + fallbackAction, nil
	}

	ext = strings.TrimPrefix(strings.ToLower(ext), ".")
	for _, action := range []string{"edit", "view"} {
		if u, ok := actions[action][ext]; ok {
			return u, nil
		}
	}
	return base + fallbackAction, nil
}

// ComposeURL builds the final URL handed to the browser.
func (r *Resolver) ComposeURL(ctx context.Context, t *tenant.Tenant, proxyBase, fileID, filePath, accessToken string) (string, error) {
	base, err := r.BaseURL(t)
	if err != nil {
		return "", err
	}

	action, err := r.ActionURL(ctx, base, path.Ext(filePath))
	if err != nil {
		return "", err
	}

	wopiSrc := strings.TrimRight(proxyBase, "/") + "/wopi/files/" + fileID

	q := url.Values{}
	q.Set("WOPISrc", wopiSrc)
	q.Set("access_token", accessToken)

	sep := "?"
	if strings.Contains(action, "?") {
		sep = "&"
	}
	return action + sep + q.Encode(), nil
}

// discover fetches and parses {base}/hosting/discovery, returning
// action -> extension -> urlsrc.
func (r *Resolver) discover(ctx context.Context, base string) (map[string]map[string]string, error) {
	if v, err := r.cache.Get(base); err == nil {
		return v.(map[string]map[string]string), nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/hosting/discovery", nil)
	if err != nil {
		return nil, errors.Wrap(err, "editor: error creating discovery request")
	}
	res, err := r.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "editor: error fetching discovery")
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return nil, errors.Errorf("editor: discovery returned %d", res.StatusCode)
	}

	doc := etree.NewDocument()
	if _, err := doc.ReadFrom(res.Body); err != nil {
		return nil, errors.Wrap(err, "editor: error parsing discovery")
	}

	actions := map[string]map[string]string{}
	root := doc.SelectElement("wopi-discovery")
	if root == nil {
		return nil, errors.New("editor: discovery has no wopi-discovery element")
	}
	for _, zone := range root.SelectElements("net-zone") {
		for _, app := range zone.SelectElements("app") {
			for _, action := range app.SelectElements("action") {
				name := action.SelectAttrValue("name", "")
				ext := strings.ToLower(action.SelectAttrValue("ext", ""))
				urlsrc := action.SelectAttrValue("urlsrc", "")
				if name == "" || urlsrc == "" {
					continue
				}
				if actions[name] == nil {
					actions[name] = map[string]string{}
				}
				actions[name][ext] = strings.TrimRight(urlsrc, "?")
			}
		}
	}

	_ = r.cache.Set(base, actions)
	return actions, nil
}
