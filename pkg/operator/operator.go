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

// Package operator assembles the process: stores, services, handler registry,
// worker pools, scheduler, reaper, and the metrics and health endpoints.
package operator

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"k8s.io/utils/clock"

	"github.com/teacurran/village-homepage/pkg/admin"
	"github.com/teacurran/village-homepage/pkg/aibudget"
	"github.com/teacurran/village-homepage/pkg/config"
	"github.com/teacurran/village-homepage/pkg/directory"
	"github.com/teacurran/village-homepage/pkg/feeds"
	"github.com/teacurran/village-homepage/pkg/flags"
	"github.com/teacurran/village-homepage/pkg/gateways"
	"github.com/teacurran/village-homepage/pkg/karma"
	"github.com/teacurran/village-homepage/pkg/marketplace"
	"github.com/teacurran/village-homepage/pkg/metrics"
	"github.com/teacurran/village-homepage/pkg/operator/options"
	"github.com/teacurran/village-homepage/pkg/queue"
	"github.com/teacurran/village-homepage/pkg/ratelimit"
	"github.com/teacurran/village-homepage/pkg/registry"
	"github.com/teacurran/village-homepage/pkg/scheduler"
	"github.com/teacurran/village-homepage/pkg/screenshot"
	"github.com/teacurran/village-homepage/pkg/search"
	"github.com/teacurran/village-homepage/pkg/store"
	"github.com/teacurran/village-homepage/pkg/utils/logging"
	"github.com/teacurran/village-homepage/pkg/workers"
)

// Gateways carries the outbound integrations the embedder provisions. A nil
// field leaves the dependent handlers unregistered; their capabilities stay
// unprovisioned so misconfiguration surfaces at startup, not at first claim.
type Gateways struct {
	Fetcher gateways.HTTPFetcher
	Browser gateways.BrowserLauncher
	Objects gateways.ObjectStore
	Stripe  gateways.StripeGateway
	Mailer  gateways.Mailer
	IMAP    gateways.IMAPFetcher
	AI      gateways.AIClient
	Search  gateways.SearchIndex
}

// Operator owns every long-running component of the process.
type Operator struct {
	Options     options.Options
	Config      *config.Store
	Client      *store.Client
	Queue       *queue.Postgres
	Registry    *registry.Registry
	Flags       *flags.Service
	Karma       *karma.Service
	Limiter     *ratelimit.Limiter
	Governor    *aibudget.Governor
	Directory   *directory.Service
	Marketplace *marketplace.Service
	Search      *search.Service
	Admin       *admin.Service

	clock clock.WithTicker
	pools []*workers.Pool
	sched *scheduler.Scheduler
}

func NewOperator(ctx context.Context, opts options.Options, gw Gateways) (*Operator, error) {
	clk := clock.RealClock{}
	if opts.MigrateOnStart {
		if err := store.Migrate(ctx, opts.PostgresDSN); err != nil {
			return nil, err
		}
	}
	client, err := store.New(ctx, opts.PostgresDSN, clk)
	if err != nil {
		return nil, err
	}
	cfg, err := config.NewStore(opts.ConfigPath)
	if err != nil {
		return nil, err
	}
	snapshot := cfg.Snapshot()
	stores := client.Stores()

	redisClient := redis.NewClient(&redis.Options{Addr: opts.RedisAddr, Password: opts.RedisPassword})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("pinging redis, %w", err)
	}

	q := queue.NewPostgres(client.Pool(), clk, nil)
	txr := store.NewTxRunner(client, q)
	flagService := flags.NewService(stores.Flags, clk)
	karmaService := karma.NewService(clk)
	limiter := ratelimit.NewLimiter(redisClient, stores.Rules, stores.Rules, clk)
	governor := aibudget.NewGovernor(stores.AIUsage, q, clk, snapshot.AIBudgetsCents)
	directoryService := directory.NewService(txr, stores.Directory, karmaService, clk)
	marketplaceService := marketplace.NewService(txr, stores.Marketplace, gw.Stripe, clk, snapshot.RelayDomain)
	adminService := admin.NewService(flagService, stores.Rules, limiter,
		txr, karmaService, q, stores.AdminAudits, clk)

	var searchService *search.Service
	if gw.Search != nil {
		searchService = search.NewService(stores.Directory, gw.Search)
	}

	cfg.OnChange(func(c *config.Config) {
		governor.SetBudgets(c.AIBudgetsCents)
	})

	reg := registry.New(provisioned(gw)...)
	if err := registerHandlers(reg, handlerSet{
		cfg:       snapshot,
		gw:        gw,
		clock:     clk,
		queue:     q,
		stores:    stores,
		governor:  governor,
		directory: directoryService,
	}); err != nil {
		return nil, err
	}

	sched, err := scheduler.New(q, clk, scheduler.CanonicalEntries())
	if err != nil {
		return nil, err
	}

	o := &Operator{
		Options:     opts,
		Config:      cfg,
		Client:      client,
		Queue:       q,
		Registry:    reg,
		Flags:       flagService,
		Karma:       karmaService,
		Limiter:     limiter,
		Governor:    governor,
		Directory:   directoryService,
		Marketplace: marketplaceService,
		Search:      searchService,
		Admin:       adminService,
		clock:       clk,
		sched:       sched,
	}
	for family, parallelism := range map[queue.Family]int{
		queue.FamilyDefault:    opts.DefaultParallelism,
		queue.FamilyHigh:       opts.HighParallelism,
		queue.FamilyLow:        opts.LowParallelism,
		queue.FamilyBulk:       opts.BulkParallelism,
		queue.FamilyScreenshot: opts.ScreenshotParallelism,
	} {
		o.pools = append(o.pools, workers.NewPool(q, reg, clk, workers.Options{
			Family:       family,
			WorkerID:     fmt.Sprintf("%s-%s", opts.WorkerID, family),
			Parallelism:  parallelism,
			PollInterval: opts.PollInterval,
			Lease:        opts.LeaseDuration,
		}))
	}
	return o, nil
}

func provisioned(gw Gateways) []registry.Capability {
	var caps []registry.Capability
	if gw.Browser != nil && gw.Objects != nil {
		caps = append(caps, registry.CapabilityBrowser)
	}
	if gw.Stripe != nil {
		caps = append(caps, registry.CapabilityStripe)
	}
	if gw.Mailer != nil {
		caps = append(caps, registry.CapabilityMailer)
	}
	if gw.Fetcher != nil {
		caps = append(caps, registry.CapabilityFetcher)
	}
	if gw.AI != nil {
		caps = append(caps, registry.CapabilityAI)
	}
	return caps
}

type handlerSet struct {
	cfg       *config.Config
	gw        Gateways
	clock     clock.Clock
	queue     queue.Interface
	stores    *store.Stores
	governor  *aibudget.Governor
	directory *directory.Service
}

func registerHandlers(reg *registry.Registry, s handlerSet) error {
	handlers := []registry.Handler{
		directory.NewRankHandler(s.stores.Directory),
		marketplace.NewExpirationHandler(s.stores.Marketplace, s.queue, s.clock),
		marketplace.NewReminderHandler(s.stores.Marketplace, s.queue, s.clock),
		flags.NewRetentionHandler(s.stores.Flags, s.clock),
	}
	if s.gw.Fetcher != nil {
		handlers = append(handlers,
			directory.NewHealthHandler(s.stores.Directory, s.gw.Fetcher, s.queue, s.clock),
			feeds.NewRSSHandler(s.stores.Feeds, s.gw.Fetcher, s.clock),
			feeds.NewWeatherHandler(s.stores.Feeds, s.gw.Fetcher, s.clock),
			feeds.NewStockHandler(s.stores.Feeds, s.gw.Fetcher, s.clock),
			feeds.NewSocialHandler(s.stores.Feeds, s.gw.Fetcher, s.clock),
		)
	}
	if s.gw.Browser != nil && s.gw.Objects != nil {
		pool := screenshot.NewSessionPool(s.gw.Browser, s.clock)
		coordinator := screenshot.NewCoordinator(pool, s.gw.Objects, s.clock)
		handlers = append(handlers, screenshot.NewHandler(coordinator, s.directory, s.clock))
	}
	if s.gw.Mailer != nil {
		handlers = append(handlers,
			marketplace.NewEmailHandler(s.stores.Marketplace, s.gw.Mailer, s.stores.Users, s.cfg.Email.FromAddress),
			admin.NewNotifyHandler(s.gw.Mailer, s.cfg.Email.FromAddress, s.cfg.Email.ModeratorsList),
		)
	}
	if s.gw.Mailer != nil && s.gw.IMAP != nil {
		handlers = append(handlers,
			marketplace.NewRelayHandler(s.stores.Marketplace, s.gw.IMAP, s.gw.Mailer, s.stores.Users))
	}
	if s.gw.AI != nil {
		handlers = append(handlers, aibudget.NewCompletionHandler(s.governor, s.gw.AI, nil))
	}
	if s.gw.Objects != nil {
		handlers = append(handlers,
			admin.NewSitemapHandler(s.stores.Directory, s.gw.Objects, s.cfg.BaseURL),
			admin.NewGDPRExportHandler(s.stores.Users, s.gw.Objects, s.clock))
	}
	return reg.Register(handlers...)
}

// Start runs every component until ctx is cancelled or one fails.
func (o *Operator) Start(ctx context.Context) error {
	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error { return o.Config.Watch(ctx) })
	group.Go(func() error {
		o.sched.Run(ctx)
		return nil
	})
	for i := range o.pools {
		pool := o.pools[i]
		group.Go(func() error {
			pool.Run(ctx)
			return nil
		})
	}
	group.Go(func() error { return o.reapLoop(ctx) })
	group.Go(func() error { return serve(ctx, o.Options.MetricsPort, metrics.Handler()) })
	group.Go(func() error { return serve(ctx, o.Options.HealthProbePort, o.healthHandler()) })
	return group.Wait()
}

// reapLoop sweeps expired leases and republishes the dead-letter gauge.
func (o *Operator) reapLoop(ctx context.Context) error {
	ticker := o.clock.NewTicker(o.Options.ReapInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C():
		}
		if _, err := o.Queue.Reap(ctx); err != nil {
			logging.FromContext(ctx).Errorf("reaping leases, %s", err)
			continue
		}
		if count, err := o.Queue.DeadLetterCount(ctx); err == nil {
			queue.SetDeadLetterSize(count)
		}
	}
}

func (o *Operator) healthHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := o.Client.Pool().Ping(ctx); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

func serve(ctx context.Context, port int, handler http.Handler) error {
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- server.ListenAndServe() }()
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
