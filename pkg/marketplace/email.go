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

package marketplace

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/teacurran/village-homepage/pkg/gateways"
	"github.com/teacurran/village-homepage/pkg/queue"
	"github.com/teacurran/village-homepage/pkg/registry"
)

// emailSubjects maps notification kinds to subject lines. Body rendering is
// out of scope here; the mailer gateway owns templates.
var emailSubjects = map[string]string{
	"listing_activated": "Your listing is live",
	"listing_expiring":  "Your listing expires in three days",
	"listing_expired":   "Your listing has expired",
}

type emailPayload struct {
	Kind      string `json:"kind"`
	ListingID string `json:"listing_id"`
	SellerID  string `json:"seller_id"`
}

func validateEmailPayload(p emailPayload) error {
	if _, ok := emailSubjects[p.Kind]; !ok {
		return fmt.Errorf("unknown email kind %q", p.Kind)
	}
	if p.ListingID == "" || p.SellerID == "" {
		return fmt.Errorf("listing_id and seller_id are required")
	}
	return nil
}

// EmailHandler delivers listing lifecycle notifications to sellers.
type EmailHandler struct {
	store  Store
	mailer gateways.Mailer
	users  UserDirectory
	from   string
}

func NewEmailHandler(store Store, mailer gateways.Mailer, users UserDirectory, from string) *EmailHandler {
	return &EmailHandler{store: store, mailer: mailer, users: users, from: from}
}

func (h *EmailHandler) Declare() registry.Declaration {
	return registry.Declaration{
		Type:         queue.TypeEmailSend,
		Family:       queue.FamilyHigh,
		Capabilities: []registry.Capability{registry.CapabilityMailer},
		MaxDuration:  30 * time.Second,
		MaxAttempts:  5,
	}
}

func (h *EmailHandler) Validate(payload json.RawMessage) error {
	_, err := registry.BindPayload(payload, validateEmailPayload)
	return err
}

func (h *EmailHandler) Run(ctx context.Context, payload json.RawMessage) error {
	bound, err := registry.BindPayload(payload, validateEmailPayload)
	if err != nil {
		return err
	}
	listing, err := h.store.GetListing(ctx, bound.ListingID)
	if err != nil {
		return err
	}
	address, err := h.users.EmailOf(ctx, bound.SellerID)
	if err != nil {
		return fmt.Errorf("resolving seller address, %w", err)
	}
	mail := gateways.Mail{
		From:    h.from,
		To:      address,
		Subject: emailSubjects[bound.Kind],
		Body:    fmt.Sprintf("%s: %s", emailSubjects[bound.Kind], listing.Title),
	}
	if err := h.mailer.Send(ctx, mail); err != nil {
		return fmt.Errorf("sending %s email for listing %q, %w", bound.Kind, bound.ListingID, err)
	}
	return nil
}
