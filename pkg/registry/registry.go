/*
Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/teacurran/village-homepage/pkg/errors"
	"github.com/teacurran/village-homepage/pkg/queue"
)

// Capability names a shared resource a handler needs at runtime. Registration
// fails at startup when a declared capability is not provisioned, rather than
// at first execution.
type Capability string

const (
	CapabilityBrowser Capability = "browser"
	CapabilityAI      Capability = "ai"
	CapabilityStripe  Capability = "stripe"
	CapabilityMailer  Capability = "mailer"
	CapabilityFetcher Capability = "fetcher"
)

// Declaration is a handler's static contract with the worker pool.
type Declaration struct {
	Type         queue.Type
	Family       queue.Family
	Capabilities []Capability
	MaxDuration  time.Duration
	MaxAttempts  int
}

// Handler executes one job kind. Validate runs before Run and classifies bad
// payloads as non-retryable. Run must respect ctx cancellation at every
// suspension point.
type Handler interface {
	Declare() Declaration
	Validate(payload json.RawMessage) error
	Run(ctx context.Context, payload json.RawMessage) error
}

// Registry maps job types to handlers. It is populated once at startup and
// read-only afterwards, so lookups are unsynchronized.
type Registry struct {
	handlers     map[queue.Type]Handler
	capabilities map[Capability]bool
}

func New(provisioned ...Capability) *Registry {
	caps := map[Capability]bool{}
	for _, c := range provisioned {
		caps[c] = true
	}
	return &Registry{handlers: map[queue.Type]Handler{}, capabilities: caps}
}

// Register binds a handler, rejecting duplicates, non-positive durations, and
// missing capabilities.
func (r *Registry) Register(handlers ...Handler) error {
	var err error
	for _, h := range handlers {
		decl := h.Declare()
		if _, ok := r.handlers[decl.Type]; ok {
			err = multierr.Append(err, fmt.Errorf("duplicate handler for type %q", decl.Type))
			continue
		}
		if decl.MaxDuration <= 0 {
			err = multierr.Append(err, fmt.Errorf("handler for type %q must declare a positive max duration", decl.Type))
			continue
		}
		missing := false
		for _, c := range decl.Capabilities {
			if !r.capabilities[c] {
				err = multierr.Append(err, fmt.Errorf("handler for type %q requires unprovisioned capability %q", decl.Type, c))
				missing = true
			}
		}
		if missing {
			continue
		}
		r.handlers[decl.Type] = h
	}
	return err
}

// Resolve returns the handler for a job type. Unknown types are a
// non-retryable validation failure with code "unknown_type".
func (r *Registry) Resolve(jobType queue.Type) (Handler, error) {
	h, ok := r.handlers[jobType]
	if !ok {
		return nil, errors.Validation("unknown_type", fmt.Errorf("no handler registered for job type %q", jobType))
	}
	return h, nil
}

// Types returns every registered job type.
func (r *Registry) Types() []queue.Type {
	types := make([]queue.Type, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	return types
}

// BindPayload unmarshals a payload into the handler's input type and applies
// its Validate hook. Required-field violations fail the job non-retryably.
func BindPayload[T any](payload json.RawMessage, validate func(T) error) (T, error) {
	var bound T
	if err := json.Unmarshal(payload, &bound); err != nil {
		return bound, errors.Validation("invalid_payload", err)
	}
	if validate != nil {
		if err := validate(bound); err != nil {
			return bound, errors.Validation("invalid_payload", err)
		}
	}
	return bound, nil
}
