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

// Package callback notifies the originating application of WOPI
// events. Delivery is asynchronous and best-effort: the WOPI request
// that produced the event is never held up or failed by it.
package callback

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/genropy/wopiserver/pkg/tenant"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// Event names delivered to the application.
const (
	EventSessionCreated = "session_created"
	EventDocumentOpened = "document_opened"
	EventDocumentSaved  = "document_saved"
	EventLockAcquired   = "lock_acquired"
	EventLockReleased   = "lock_released"
	EventSessionExpired = "session_expired"
)

// Event is one notification to deliver.
type Event struct {
	OriginConnectionID string                 `json:"origin_connection_id"`
	OriginPageID       string                 `json:"origin_page_id,omitempty"`
	Event              string                 `json:"event"`
	SessionID          string                 `json:"session_id"`
	FilePath           string                 `json:"file_path"`
	Timestamp          string                 `json:"timestamp"`
	Extras             map[string]interface{} `json:"extras,omitempty"`
}

// Dispatcher fans events out to tenant callback endpoints.
type Dispatcher struct {
	log     zerolog.Logger
	client  *http.Client
	queue   chan job
	wg      sync.WaitGroup
	maxTry  uint64
	backoff func() backoff.BackOff
}

type job struct {
	url   string
	auth  string
	event *Event
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithClient overrides the HTTP client used for delivery.
func WithClient(c *http.Client) Option {
	return func(d *Dispatcher) { d.client = c }
}

// WithMaxAttempts overrides the delivery attempt limit.
func WithMaxAttempts(n uint64) Option {
	return func(d *Dispatcher) { d.maxTry = n }
}

// New returns a started dispatcher with the given number of delivery
// workers.
func New(log zerolog.Logger, workers int, opts ...Option) *Dispatcher {
	if workers <= 0 {
		workers = 4
	}
	d := &Dispatcher{
		log:    log.With().Str("pkg", "callback").Logger(),
		client: &http.Client{Timeout: 10 * time.Second},
		queue:  make(chan job, 256),
		maxTry: 5,
	}
	d.backoff = func() backoff.BackOff {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = time.Second
		b.MaxInterval = 60 * time.Second
		b.MaxElapsedTime = 0
		return backoff.WithMaxRetries(b, d.maxTry-1)
	}
	for _, o := range opts {
		o(d)
	}

	for i := 0; i < workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
	return d
}

// Dispatch queues the event for the tenant. Events are silently
// skipped when the tenant has no callback URL or the session carries
// no origin connection. Delivery is decoupled from ctx: the event
// survives the originating request.
func (d *Dispatcher) Dispatch(ctx context.Context, t *tenant.Tenant, ev *Event) {
	if t == nil || t.CallbackBaseURL == "" || ev.OriginConnectionID == "" {
		return
	}
	if ev.Timestamp == "" {
		ev.Timestamp = time.Now().UTC().Format(time.RFC3339)
	}

	j := job{url: t.CallbackBaseURL + "/wopi/callback", auth: t.CallbackAuth, event: ev}
	select {
	case d.queue <- j:
	default:
		d.log.Warn().Str("event", ev.Event).Str("session", ev.SessionID).
			Msg("callback queue full, dropping event")
	}
}

// Stop drains the queue and waits for in-flight deliveries.
func (d *Dispatcher) Stop() {
	close(d.queue)
	d.wg.Wait()
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for j := range d.queue {
		if err := d.deliver(j); err != nil {
			d.log.Error().Err(err).Str("event", j.event.Event).
				Str("session", j.event.SessionID).Msg("callback delivery failed")
		}
	}
}

func (d *Dispatcher) deliver(j job) error {
	body, err := json.Marshal(j.event)
	if err != nil {
		return errors.Wrap(err, "callback: error encoding event")
	}

	op := func() error {
		req, err := http.NewRequest(http.MethodPost, j.url, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		if j.auth != "" {
			req.Header.Set("Authorization", j.auth)
		}

		res, err := d.client.Do(req)
		if err != nil {
			return err
		}
		defer res.Body.Close()

		if res.StatusCode >= 500 {
			return errors.Errorf("callback: endpoint returned %d", res.StatusCode)
		}
		if res.StatusCode >= 400 {
			// client errors will not heal on retry
			return backoff.Permanent(errors.Errorf("callback: endpoint returned %d", res.StatusCode))
		}
		return nil
	}
	return backoff.Retry(op, d.backoff())
}
