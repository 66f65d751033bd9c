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

package flags

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"k8s.io/utils/clock"

	"github.com/teacurran/village-homepage/pkg/queue"
	"github.com/teacurran/village-homepage/pkg/registry"
	"github.com/teacurran/village-homepage/pkg/utils/logging"
)

// DefaultRetentionDays bounds how long consented evaluation records persist.
const DefaultRetentionDays = 90

type retentionPayload struct {
	Days int `json:"days,omitempty"`
}

// RetentionHandler prunes evaluation records past the retention horizon. It
// runs nightly from the scheduler.
type RetentionHandler struct {
	store Store
	clock clock.PassiveClock
}

func NewRetentionHandler(store Store, clk clock.PassiveClock) *RetentionHandler {
	return &RetentionHandler{store: store, clock: clk}
}

func (h *RetentionHandler) Declare() registry.Declaration {
	return registry.Declaration{
		Type:        queue.TypeEvaluationRetention,
		Family:      queue.FamilyBulk,
		MaxDuration: 10 * time.Minute,
		MaxAttempts: 3,
	}
}

func (h *RetentionHandler) Validate(payload json.RawMessage) error {
	_, err := registry.BindPayload(payload, func(p retentionPayload) error {
		if p.Days < 0 {
			return fmt.Errorf("days must be non-negative")
		}
		return nil
	})
	return err
}

func (h *RetentionHandler) Run(ctx context.Context, payload json.RawMessage) error {
	bound, err := registry.BindPayload[retentionPayload](payload, nil)
	if err != nil {
		return err
	}
	days := bound.Days
	if days == 0 {
		days = DefaultRetentionDays
	}
	cutoff := h.clock.Now().AddDate(0, 0, -days)
	pruned, err := h.store.DeleteEvaluationsBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("pruning evaluations before %s, %w", cutoff.Format(time.DateOnly), err)
	}
	evaluationsPruned.Add(float64(pruned))
	logging.FromContext(ctx).With("pruned", pruned, "cutoff", cutoff).Infof("evaluation retention pass complete")
	return nil
}
