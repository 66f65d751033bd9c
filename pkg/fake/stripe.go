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

package fake

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/teacurran/village-homepage/pkg/gateways"
)

// CheckoutSession records one CreateCheckoutSession call.
type CheckoutSession struct {
	ListingID string
	Purpose   string
	Amount    int64
}

// StripeGateway scripts checkout creation and webhook verification.
type StripeGateway struct {
	mu               sync.Mutex
	CheckoutErr      error
	CheckoutSessions []CheckoutSession // in call order
	VerifyEvent      *gateways.StripeEvent
	VerifyErr        error
}

func (g *StripeGateway) CreateCheckoutSession(_ context.Context, listingID, purpose string, amountCents int64) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.CheckoutErr != nil {
		return "", g.CheckoutErr
	}
	g.CheckoutSessions = append(g.CheckoutSessions, CheckoutSession{ListingID: listingID, Purpose: purpose, Amount: amountCents})
	return fmt.Sprintf("https://checkout.stripe.test/%s", listingID), nil
}

func (g *StripeGateway) VerifyWebhook([]byte, string, time.Time) (*gateways.StripeEvent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.VerifyErr != nil {
		return nil, g.VerifyErr
	}
	return g.VerifyEvent, nil
}

func (g *StripeGateway) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.CheckoutErr = nil
	g.CheckoutSessions = nil
	g.VerifyEvent = nil
	g.VerifyErr = nil
}
