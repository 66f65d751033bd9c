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

package aibudget

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/teacurran/village-homepage/pkg/errors"
	"github.com/teacurran/village-homepage/pkg/gateways"
	"github.com/teacurran/village-homepage/pkg/queue"
	"github.com/teacurran/village-homepage/pkg/registry"
	"github.com/teacurran/village-homepage/pkg/utils/logging"
)

// CompletionSink receives finished completions. Deferred requests carry a
// result key naming where the caller expects the output.
type CompletionSink interface {
	DeliverCompletion(ctx context.Context, resultKey, output string) error
}

// CompletionHandler runs deferred AI requests once the budget month rolls
// over. It re-runs admission so a deferred job cannot itself bust the new
// month's budget, and records actual spend on success.
type CompletionHandler struct {
	governor *Governor
	client   gateways.AIClient
	sink     CompletionSink
}

func NewCompletionHandler(governor *Governor, client gateways.AIClient, sink CompletionSink) *CompletionHandler {
	return &CompletionHandler{governor: governor, client: client, sink: sink}
}

func (h *CompletionHandler) Declare() registry.Declaration {
	return registry.Declaration{
		Type:         queue.TypeAICompletion,
		Family:       queue.FamilyBulk,
		Capabilities: []registry.Capability{registry.CapabilityAI},
		MaxDuration:  2 * time.Minute,
		MaxAttempts:  3,
	}
}

// CompletionPayload is the deferred request. Callers passing a payload to
// Admit use this shape so the deferral round-trips.
type CompletionPayload struct {
	Provider      string `json:"provider"`
	Model         string `json:"model"`
	Prompt        string `json:"prompt"`
	MaxTokens     int    `json:"max_tokens"`
	EstimateCents int64  `json:"estimate_cents"`
	ResultKey     string `json:"result_key"`
}

func (h *CompletionHandler) Validate(payload json.RawMessage) error {
	_, err := registry.BindPayload(payload, func(p CompletionPayload) error {
		if p.Provider == "" || p.Model == "" || p.Prompt == "" {
			return fmt.Errorf("provider, model, and prompt are required")
		}
		return nil
	})
	return err
}

func (h *CompletionHandler) Run(ctx context.Context, payload json.RawMessage) error {
	bound, err := registry.BindPayload[CompletionPayload](payload, nil)
	if err != nil {
		return err
	}
	// A deferred job is never critical; if the new month is already queueing
	// it defers again rather than running degraded.
	decision, err := h.governor.Admit(ctx, bound.Provider, bound.EstimateCents, false, bound)
	if err != nil {
		return err
	}
	if decision.DeferredJobID != "" {
		logging.FromContext(ctx).With("provider", bound.Provider, "job-id", decision.DeferredJobID).
			Debugf("completion deferred again")
		return nil
	}
	maxTokens := ReducedMaxTokens(decision.Mode, bound.MaxTokens)
	output, usage, err := h.client.Complete(ctx, bound.Provider, bound.Model, bound.Prompt, maxTokens)
	if err != nil {
		return errors.Transient("ai_completion_failed", err)
	}
	if err := h.governor.Record(ctx, bound.Provider, Usage{
		Requests:     1,
		InputTokens:  usage.PromptTokens,
		OutputTokens: usage.CompletionTokens,
		CostCents:    usage.CostCents,
	}); err != nil {
		return err
	}
	if h.sink != nil && bound.ResultKey != "" {
		if err := h.sink.DeliverCompletion(ctx, bound.ResultKey, output); err != nil {
			return fmt.Errorf("delivering completion to %q, %w", bound.ResultKey, err)
		}
	}
	return nil
}
