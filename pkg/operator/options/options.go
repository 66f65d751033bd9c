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

package options

import (
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/multierr"

	"github.com/teacurran/village-homepage/pkg/utils/env"
)

func MustParse() Options {
	opts := Options{}
	hostname, _ := os.Hostname()
	flag.StringVar(&opts.PostgresDSN, "postgres-dsn", env.WithDefaultString("POSTGRES_DSN", ""), "The Postgres connection string for jobs and domain state")
	flag.StringVar(&opts.RedisAddr, "redis-addr", env.WithDefaultString("REDIS_ADDR", "localhost:6379"), "The Redis address for rate limit windows")
	flag.StringVar(&opts.RedisPassword, "redis-password", env.WithDefaultString("REDIS_PASSWORD", ""), "The Redis password, empty for none")
	flag.StringVar(&opts.ConfigPath, "config-path", env.WithDefaultString("CONFIG_PATH", "/etc/village/village.toml"), "The path to the hot-reloaded settings file")
	flag.StringVar(&opts.LogLevel, "log-level", env.WithDefaultString("LOG_LEVEL", "info"), "The minimum log level: debug, info, warn, or error")
	flag.StringVar(&opts.WorkerID, "worker-id", env.WithDefaultString("WORKER_ID", hostname), "The identity this process claims leases under")
	flag.IntVar(&opts.MetricsPort, "metrics-port", env.WithDefaultInt("METRICS_PORT", 8080), "The port the metric endpoint binds to")
	flag.IntVar(&opts.HealthProbePort, "health-probe-port", env.WithDefaultInt("HEALTH_PROBE_PORT", 8081), "The port the health probe endpoint binds to")
	flag.IntVar(&opts.DefaultParallelism, "default-parallelism", env.WithDefaultInt("DEFAULT_PARALLELISM", 4), "Worker slots for the DEFAULT job family")
	flag.IntVar(&opts.HighParallelism, "high-parallelism", env.WithDefaultInt("HIGH_PARALLELISM", 4), "Worker slots for the HIGH job family")
	flag.IntVar(&opts.LowParallelism, "low-parallelism", env.WithDefaultInt("LOW_PARALLELISM", 2), "Worker slots for the LOW job family")
	flag.IntVar(&opts.BulkParallelism, "bulk-parallelism", env.WithDefaultInt("BULK_PARALLELISM", 2), "Worker slots for the BULK job family")
	flag.IntVar(&opts.ScreenshotParallelism, "screenshot-parallelism", env.WithDefaultInt("SCREENSHOT_PARALLELISM", 3), "Worker slots for the SCREENSHOT job family")
	flag.DurationVar(&opts.PollInterval, "poll-interval", env.WithDefaultDuration("POLL_INTERVAL", time.Second), "How often idle worker pools poll for jobs")
	flag.DurationVar(&opts.LeaseDuration, "lease-duration", env.WithDefaultDuration("LEASE_DURATION", time.Minute), "How long a claimed job is leased before the reaper may reclaim it")
	flag.DurationVar(&opts.ReapInterval, "reap-interval", env.WithDefaultDuration("REAP_INTERVAL", 30*time.Second), "How often expired leases are swept")
	flag.BoolVar(&opts.MigrateOnStart, "migrate-on-start", env.WithDefaultBool("MIGRATE_ON_START", true), "Apply pending schema migrations before serving")
	flag.Parse()
	if err := opts.Validate(); err != nil {
		panic(err)
	}
	return opts
}

// Options for running this binary
type Options struct {
	PostgresDSN           string
	RedisAddr             string
	RedisPassword         string
	ConfigPath            string
	LogLevel              string
	WorkerID              string
	MetricsPort           int
	HealthProbePort       int
	DefaultParallelism    int
	HighParallelism       int
	LowParallelism        int
	BulkParallelism       int
	ScreenshotParallelism int
	PollInterval          time.Duration
	LeaseDuration         time.Duration
	ReapInterval          time.Duration
	MigrateOnStart        bool
}

func (o Options) Validate() (err error) {
	if o.PostgresDSN == "" {
		err = multierr.Append(err, fmt.Errorf("POSTGRES_DSN is required"))
	}
	if o.WorkerID == "" {
		err = multierr.Append(err, fmt.Errorf("WORKER_ID is required when the hostname is unavailable"))
	}
	for name, parallelism := range map[string]int{
		"default-parallelism":    o.DefaultParallelism,
		"high-parallelism":       o.HighParallelism,
		"low-parallelism":        o.LowParallelism,
		"bulk-parallelism":       o.BulkParallelism,
		"screenshot-parallelism": o.ScreenshotParallelism,
	} {
		if parallelism < 1 {
			err = multierr.Append(err, fmt.Errorf("%s must be at least 1", name))
		}
	}
	if o.LeaseDuration < 10*time.Second {
		err = multierr.Append(err, fmt.Errorf("lease-duration must be at least 10s"))
	}
	return err
}
