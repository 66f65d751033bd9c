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

// Package gateways defines the outbound dependency surface of the job
// handlers. Handlers accept these interfaces; production wiring provides the
// concrete clients and tests provide the fakes.
package gateways

import (
	"context"
	"io"
	"net/http"
	"time"
)

// HTTPFetcher issues outbound HTTP requests for feed refreshes and link health
// checks. Implementations enforce timeouts and redirect limits themselves.
type HTTPFetcher interface {
	Do(req *http.Request) (*http.Response, error)
}

// BrowserSession is one live headless browser page.
type BrowserSession interface {
	// Capture renders url at the given viewport width and returns PNG bytes.
	Capture(ctx context.Context, url string, width int) ([]byte, error)
	// Healthy reports whether the underlying browser still responds.
	Healthy(ctx context.Context) bool
	Close(ctx context.Context) error
}

// BrowserLauncher creates browser sessions. Launch failures are transient.
type BrowserLauncher interface {
	Launch(ctx context.Context) (BrowserSession, error)
}

// ObjectStore persists rendered screenshots and export archives.
type ObjectStore interface {
	Put(ctx context.Context, key string, contentType string, body io.Reader) (string, error)
	Delete(ctx context.Context, key string) error
}

// StripeEvent is the subset of a webhook event the marketplace consumes.
type StripeEvent struct {
	ID              string
	Type            string
	PaymentIntentID string
	Amount          int64
	Currency        string
	Metadata        map[string]string
}

// StripeGateway covers checkout session creation and webhook intake. The
// purpose string rides in the session metadata and comes back on the webhook
// event, so the marketplace can tell a listing payment from a bump payment.
type StripeGateway interface {
	CreateCheckoutSession(ctx context.Context, listingID, purpose string, amountCents int64) (url string, err error)
	// VerifyWebhook authenticates a webhook delivery and parses the event.
	VerifyWebhook(payload []byte, signatureHeader string, now time.Time) (*StripeEvent, error)
}

// AIUsage reports what one completion consumed, for budget accounting.
type AIUsage struct {
	Provider         string
	Model            string
	PromptTokens     int64
	CompletionTokens int64
	CostCents        int64
}

// AIClient runs one completion against a provider. A 429 from the provider
// surfaces as a throttle error carrying the Retry-After hint.
type AIClient interface {
	Complete(ctx context.Context, provider, model, prompt string, maxTokens int) (string, AIUsage, error)
}

// Mail is one outbound message.
type Mail struct {
	From    string
	To      string
	ReplyTo string
	Subject string
	Body    string
}

type Mailer interface {
	Send(ctx context.Context, mail Mail) error
}

// InboundMail is a message pulled from the relay mailbox.
type InboundMail struct {
	MessageID string
	From      string
	To        string
	Subject   string
	Body      string
	Received  time.Time
}

// IMAPFetcher polls the relay mailbox for listing replies.
type IMAPFetcher interface {
	FetchUnseen(ctx context.Context) ([]InboundMail, error)
}

// SearchDocument is one indexable record.
type SearchDocument struct {
	ID     string
	Kind   string
	Title  string
	Body   string
	Tags   []string
	Lat    float64
	Lon    float64
	HasGeo bool
}

// SearchIndex is the full-text index behind directory and marketplace search.
type SearchIndex interface {
	Index(ctx context.Context, docs ...SearchDocument) error
	Remove(ctx context.Context, ids ...string) error
	// Query returns matching document ids, best first.
	Query(ctx context.Context, text, kind string, limit int) ([]string, error)
}
