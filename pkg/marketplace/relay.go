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
	"regexp"
	"time"

	"github.com/teacurran/village-homepage/pkg/gateways"
	"github.com/teacurran/village-homepage/pkg/queue"
	"github.com/teacurran/village-homepage/pkg/registry"
	"github.com/teacurran/village-homepage/pkg/utils/logging"
)

// maskedEmailPattern is the relay address grammar. The local part pins a v4
// UUID so forged or mistyped addresses drop before any lookup.
var maskedEmailPattern = regexp.MustCompile(
	`^listing-([0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12})@([A-Za-z0-9.-]+)$`)

// ParseMaskedEmail extracts the listing UUID from a relay address, reporting
// whether the address matches the grammar at all.
func ParseMaskedEmail(address string) (string, bool) {
	match := maskedEmailPattern.FindStringSubmatch(address)
	if match == nil {
		return "", false
	}
	return match[1], true
}

// RelayHandler polls the relay mailbox and forwards buyer messages to the
// listing's seller. The buyer's address rides in Reply-To, so the seller
// answers directly; the seller's address never reaches the buyer through us.
type RelayHandler struct {
	store  Store
	imap   gateways.IMAPFetcher
	mailer gateways.Mailer
	users  UserDirectory
}

func NewRelayHandler(store Store, imap gateways.IMAPFetcher, mailer gateways.Mailer, users UserDirectory) *RelayHandler {
	return &RelayHandler{store: store, imap: imap, mailer: mailer, users: users}
}

func (h *RelayHandler) Declare() registry.Declaration {
	return registry.Declaration{
		Type:         queue.TypeInboundEmailPoll,
		Family:       queue.FamilyHigh,
		Capabilities: []registry.Capability{registry.CapabilityMailer},
		MaxDuration:  time.Minute,
		MaxAttempts:  3,
	}
}

func (h *RelayHandler) Validate(json.RawMessage) error { return nil }

func (h *RelayHandler) Run(ctx context.Context, _ json.RawMessage) error {
	mails, err := h.imap.FetchUnseen(ctx)
	if err != nil {
		return fmt.Errorf("polling relay mailbox, %w", err)
	}
	for _, mail := range mails {
		h.relayOne(ctx, mail)
	}
	return nil
}

// relayOne forwards one inbound message. Undeliverable messages are dropped
// with a log line rather than failing the poll; the mailbox marks them seen
// either way.
func (h *RelayHandler) relayOne(ctx context.Context, mail gateways.InboundMail) {
	logger := logging.FromContext(ctx).With("message-id", mail.MessageID)
	if _, ok := ParseMaskedEmail(mail.To); !ok {
		relayed.WithLabelValues("bad_address").Inc()
		logger.Debugf("dropping relay mail to unparseable address")
		return
	}
	listing, err := h.store.GetByMaskedEmail(ctx, mail.To)
	if err != nil || listing == nil {
		relayed.WithLabelValues("unknown_listing").Inc()
		logger.Debugf("dropping relay mail for unknown listing address")
		return
	}
	if listing.Status != ListingStatusActive {
		relayed.WithLabelValues("inactive_listing").Inc()
		logger.Debugf("dropping relay mail for %s listing", listing.Status)
		return
	}
	sellerEmail, err := h.users.EmailOf(ctx, listing.SellerID)
	if err != nil {
		relayed.WithLabelValues("no_seller_email").Inc()
		logger.Errorf("resolving seller address, %s", err)
		return
	}
	forward := gateways.Mail{
		From:    listing.MaskedEmail,
		To:      sellerEmail,
		ReplyTo: mail.From,
		Subject: fmt.Sprintf("[%s] %s", listing.Title, mail.Subject),
		Body:    mail.Body,
	}
	if err := h.mailer.Send(ctx, forward); err != nil {
		relayed.WithLabelValues("send_failed").Inc()
		logger.Errorf("forwarding relay mail, %s", err)
		return
	}
	relayed.WithLabelValues("forwarded").Inc()
}
