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

package workers

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/samber/lo"
	"k8s.io/utils/clock"

	"github.com/teacurran/village-homepage/pkg/errors"
	"github.com/teacurran/village-homepage/pkg/queue"
	"github.com/teacurran/village-homepage/pkg/registry"
	"github.com/teacurran/village-homepage/pkg/utils/logging"
)

const (
	// MinPollInterval floors the idle poll cadence so a misconfigured pool
	// cannot hot-loop against the queue.
	MinPollInterval = 250 * time.Millisecond

	// ShutdownGrace is how long a handler gets past its declared max duration
	// before the pool abandons it and records a timeout failure.
	ShutdownGrace = 2 * time.Second
)

type Options struct {
	Family       queue.Family
	WorkerID     string
	Parallelism  int
	PollInterval time.Duration
	Lease        time.Duration
}

func (o Options) withDefaults() Options {
	if o.Parallelism <= 0 {
		o.Parallelism = 4
	}
	if o.PollInterval < MinPollInterval {
		o.PollInterval = MinPollInterval
	}
	if o.Lease <= 0 {
		o.Lease = time.Minute
	}
	if o.WorkerID == "" {
		o.WorkerID = fmt.Sprintf("worker-%s-%d", o.Family, rand.Int63())
	}
	return o
}

// Pool drains one job family. It claims in batches sized to its free slots,
// runs each job on its own goroutine under a lease it keeps renewed, and
// enforces a per-type concurrency ceiling so a burst of one job type cannot
// monopolize the family.
type Pool struct {
	opts     Options
	queue    queue.Interface
	registry *registry.Registry
	clock    clock.WithTicker

	mu       sync.Mutex
	inFlight map[queue.Type]int
	slots    chan struct{}
	wg       sync.WaitGroup

	haltOnce sync.Once
	halted   chan struct{}
}

func NewPool(q queue.Interface, r *registry.Registry, clk clock.WithTicker, opts Options) *Pool {
	opts = opts.withDefaults()
	return &Pool{
		opts:     opts,
		queue:    q,
		registry: r,
		clock:    clk,
		inFlight: map[queue.Type]int{},
		slots:    make(chan struct{}, opts.Parallelism),
		halted:   make(chan struct{}),
	}
}

// typeCeiling is the largest number of jobs of a single type allowed to run
// concurrently in this pool.
func (p *Pool) typeCeiling() int {
	return (p.opts.Parallelism + 1) / 2
}

// Run drains the family until ctx is cancelled or a fatal job error halts the
// pool, then waits for in-flight jobs to settle.
func (p *Pool) Run(ctx context.Context) {
	logger := logging.FromContext(ctx).With("family", p.opts.Family, "worker-id", p.opts.WorkerID)
	ctx = logging.WithLogger(ctx, logger)
	logger.Infof("worker pool started")
	for {
		if ctx.Err() != nil || p.isHalted() {
			break
		}
		claimed := p.claimOnce(ctx)
		if claimed == 0 {
			// Jittered idle sleep spreads replicated pools off a shared beat.
			sleep := p.opts.PollInterval + time.Duration(rand.Int63n(int64(p.opts.PollInterval)/2+1))
			select {
			case <-ctx.Done():
			case <-p.halted:
			case <-p.clock.After(sleep):
			}
		}
	}
	p.wg.Wait()
	logger.Infof("worker pool stopped")
}

// claimOnce fills the pool's free slots with one claim batch and dispatches
// the results. Jobs over the per-type ceiling go straight back to pending
// without being charged an attempt.
func (p *Pool) claimOnce(ctx context.Context) int {
	free := cap(p.slots) - len(p.slots)
	if free == 0 {
		select {
		case <-ctx.Done():
			return 0
		case <-p.clock.After(p.opts.PollInterval):
			return 0
		}
	}
	jobs, err := p.queue.Claim(ctx, p.opts.Family, p.opts.WorkerID, p.opts.Lease, free)
	if err != nil {
		logging.FromContext(ctx).Errorf("claiming jobs, %s", err)
		return 0
	}
	dispatched := 0
	for _, job := range jobs {
		if !p.admit(job.Type) {
			if err := p.queue.Release(ctx, job.ID, p.opts.WorkerID); err != nil {
				logging.FromContext(ctx).With("job-id", job.ID).Errorf("releasing job over type ceiling, %s", err)
			}
			fairnessSkips.WithLabelValues(string(p.opts.Family), string(job.Type)).Inc()
			continue
		}
		p.slots <- struct{}{}
		p.wg.Add(1)
		dispatched++
		go func(job *queue.Job) {
			defer p.wg.Done()
			defer func() { <-p.slots }()
			defer p.finish(job.Type)
			p.execute(ctx, job)
		}(job)
	}
	return dispatched
}

func (p *Pool) admit(jobType queue.Type) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.inFlight[jobType] >= p.typeCeiling() {
		return false
	}
	p.inFlight[jobType]++
	return true
}

func (p *Pool) finish(jobType queue.Type) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.inFlight[jobType]--
	if p.inFlight[jobType] == 0 {
		delete(p.inFlight, jobType)
	}
}

// execute runs one job end to end: resolve, validate, run under deadline with
// lease renewal, then ack or fail per the error taxonomy.
func (p *Pool) execute(ctx context.Context, job *queue.Job) {
	logger := logging.FromContext(ctx).With("job-id", job.ID, "type", job.Type, "attempt", job.Attempts)
	ctx = logging.WithLogger(ctx, logger)
	start := p.clock.Now()
	inFlightGauge.WithLabelValues(string(p.opts.Family)).Inc()
	defer inFlightGauge.WithLabelValues(string(p.opts.Family)).Dec()

	handler, err := p.registry.Resolve(job.Type)
	if err != nil {
		p.fail(ctx, job, err)
		return
	}
	if err := handler.Validate(job.Payload); err != nil {
		p.fail(ctx, job, errors.Validation("invalid_payload", err))
		return
	}

	decl := handler.Declare()
	runCtx, cancel := context.WithTimeout(ctx, decl.MaxDuration)
	defer cancel()
	stopRenewal := p.renewLease(runCtx, job)
	defer stopRenewal()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- errors.Transient("panic", fmt.Errorf("handler panicked: %v", r))
			}
		}()
		done <- handler.Run(runCtx, job.Payload)
	}()

	var runErr error
	select {
	case runErr = <-done:
	case <-p.clock.After(decl.MaxDuration + ShutdownGrace):
		// The handler ignored its deadline. Abandon the goroutine; the
		// cancelled context stops well-behaved work eventually.
		runErr = errors.Transient("timeout", fmt.Errorf("handler exceeded max duration %s", decl.MaxDuration))
	}
	jobDuration.WithLabelValues(string(p.opts.Family), string(job.Type), lo.Ternary(runErr == nil, "succeeded", "failed")).
		Observe(p.clock.Since(start).Seconds())

	if runErr != nil {
		p.fail(ctx, job, runErr)
		return
	}
	if err := p.queue.Ack(ctx, job.ID, p.opts.WorkerID); err != nil {
		logger.Errorf("acking job, %s", err)
	}
}

func (p *Pool) fail(ctx context.Context, job *queue.Job, cause error) {
	if errors.IsFatal(cause) {
		// A fatal error means the worker itself is unusable. Leave the job
		// untouched under its lease; the reaper returns it to pending for
		// another worker once the lease lapses.
		logging.FromContext(ctx).Errorf("fatal job error, halting pool, %s", cause)
		fatalHalts.WithLabelValues(string(p.opts.Family), string(job.Type)).Inc()
		p.halt()
		return
	}
	retryable := errors.IsRetryable(cause)
	opts := []queue.FailOption{}
	if after := errors.RetryAfter(cause); after > 0 {
		opts = append(opts, queue.WithRetryAfter(after))
	}
	logging.FromContext(ctx).With("retryable", retryable).Debugf("job failed, %s", cause)
	if err := p.queue.Fail(ctx, job.ID, p.opts.WorkerID, cause.Error(), retryable, opts...); err != nil {
		logging.FromContext(ctx).Errorf("recording job failure, %s", err)
	}
}

func (p *Pool) halt() {
	p.haltOnce.Do(func() { close(p.halted) })
}

func (p *Pool) isHalted() bool {
	select {
	case <-p.halted:
		return true
	default:
		return false
	}
}

// renewLease extends the lease at a third of its duration until the returned
// stop function is called or ctx ends. A renewal rejection means another
// worker owns the job now, so the renewal loop stops rather than fights.
func (p *Pool) renewLease(ctx context.Context, job *queue.Job) func() {
	stopped := make(chan struct{})
	var once sync.Once
	stop := func() { once.Do(func() { close(stopped) }) }
	go func() {
		ticker := p.clock.NewTicker(p.opts.Lease / 3)
		defer ticker.Stop()
		for {
			select {
			case <-stopped:
				return
			case <-ctx.Done():
				return
			case <-ticker.C():
				if err := p.queue.RenewLease(ctx, job.ID, p.opts.WorkerID, p.opts.Lease); err != nil {
					logging.FromContext(ctx).Debugf("renewing lease, %s", err)
					return
				}
			}
		}
	}()
	return stop
}
