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

package gateways

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/teacurran/village-homepage/pkg/errors"
)

// SignatureTolerance bounds webhook timestamp skew in either direction.
// Deliveries outside the window are replays or clock problems and are
// rejected before signature comparison.
const SignatureTolerance = 5 * time.Minute

// VerifyWebhookSignature authenticates a webhook delivery. The header carries
// "t=<unix>,v1=<hex hmac>" pairs; the signed message is "<t>.<body>" keyed
// with the endpoint secret. Any v1 candidate matching is sufficient, since
// secret rotation can put two signatures on one delivery.
func VerifyWebhookSignature(payload []byte, header, secret string, now time.Time) error {
	var timestamp int64
	var candidates []string
	for _, part := range strings.Split(header, ",") {
		k, v, found := strings.Cut(strings.TrimSpace(part), "=")
		if !found {
			continue
		}
		switch k {
		case "t":
			parsed, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return errors.Validation("invalid_signature", fmt.Errorf("malformed timestamp %q", v))
			}
			timestamp = parsed
		case "v1":
			candidates = append(candidates, v)
		}
	}
	if timestamp == 0 || len(candidates) == 0 {
		return errors.Validation("invalid_signature", fmt.Errorf("header missing timestamp or signature"))
	}
	skew := now.Sub(time.Unix(timestamp, 0))
	if skew > SignatureTolerance || skew < -SignatureTolerance {
		return errors.Validation("invalid_signature", fmt.Errorf("timestamp outside tolerance"))
	}
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s", timestamp, payload)
	expected := hex.EncodeToString(mac.Sum(nil))
	for _, candidate := range candidates {
		if hmac.Equal([]byte(candidate), []byte(expected)) {
			return nil
		}
	}
	return errors.Validation("invalid_signature", fmt.Errorf("no signature matched"))
}

// WebhookVerifier implements the webhook half of StripeGateway over a shared
// endpoint secret.
type WebhookVerifier struct {
	Secret string
}

// stripeEnvelope mirrors the wire shape of the events the marketplace
// subscribes to.
type stripeEnvelope struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object struct {
			ID       string            `json:"id"`
			Amount   int64             `json:"amount"`
			Currency string            `json:"currency"`
			Metadata map[string]string `json:"metadata"`
		} `json:"object"`
	} `json:"data"`
}

func (v *WebhookVerifier) VerifyWebhook(payload []byte, signatureHeader string, now time.Time) (*StripeEvent, error) {
	if err := VerifyWebhookSignature(payload, signatureHeader, v.Secret, now); err != nil {
		return nil, err
	}
	var envelope stripeEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return nil, errors.Validation("invalid_payload", err)
	}
	return &StripeEvent{
		ID:              envelope.ID,
		Type:            envelope.Type,
		PaymentIntentID: envelope.Data.Object.ID,
		Amount:          envelope.Data.Object.Amount,
		Currency:        envelope.Data.Object.Currency,
		Metadata:        envelope.Data.Object.Metadata,
	}, nil
}
