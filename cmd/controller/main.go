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

package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/teacurran/village-homepage/pkg/operator"
	"github.com/teacurran/village-homepage/pkg/operator/options"
	"github.com/teacurran/village-homepage/pkg/utils/logging"
)

func main() {
	opts := options.MustParse()
	logger := logging.NewLogger(opts.LogLevel)
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = logging.WithLogger(ctx, logger)

	// Browser, object store, payment, mail, AI, and search gateways are wired
	// by deployment-specific builds; handlers depending on an absent gateway
	// stay unregistered and their families drain to other handlers.
	gw := operator.Gateways{
		Fetcher: &http.Client{Timeout: 30 * time.Second},
	}

	op, err := operator.NewOperator(ctx, opts, gw)
	if err != nil {
		logger.Fatalf("initializing operator, %s", err)
	}
	logger.With("worker-id", opts.WorkerID).Infof("starting")
	if err := op.Start(ctx); err != nil {
		logger.Fatalf("operator exited, %s", err)
	}
}
