package main

import (
	"context"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/agentworkforce/notesync/internal/localcache"
	"github.com/spf13/cobra"
)

const (
	defaultWatchInterval  = 30 * time.Second
	defaultProbeInterval  = 5 * time.Second
	defaultIntervalJitter = 0.2
)

func newWatchCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Keep replaying queued changes until interrupted",
		Long: `watch replays the queue on a jittered interval, whenever another notes
process rewrites the queue of a file cache, and as soon as the server answers
again after an outage.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			parent := cmd.Context()
			if parent == nil {
				parent = context.Background()
			}
			rootCtx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.watch(rootCtx)
		},
	}
	flags := cmd.Flags()
	flags.Duration("interval", durationEnv("NOTES_WATCH_INTERVAL", defaultWatchInterval), "replay interval")
	flags.Float64("interval-jitter", floatEnv("NOTES_WATCH_INTERVAL_JITTER", defaultIntervalJitter), "replay interval jitter ratio (0.0-1.0)")
	flags.Duration("probe-interval", durationEnv("NOTES_WATCH_PROBE_INTERVAL", defaultProbeInterval), "how often to check an unreachable server")
	_ = a.v.BindPFlags(flags)
	return cmd
}

func (a *app) watch(rootCtx context.Context) error {
	logger := a.logger(true)
	s, err := a.openSession(rootCtx, logger)
	if err != nil {
		return err
	}
	defer s.close()

	interval := a.v.GetDuration("interval")
	if interval <= 0 {
		interval = defaultWatchInterval
	}
	probeInterval := a.v.GetDuration("probe-interval")
	if probeInterval <= 0 {
		probeInterval = defaultProbeInterval
	}
	jitter := clampJitterRatio(a.v.GetFloat64("interval-jitter"))

	// known holds the queue entries seen when the last pass started. Queue
	// rewrites that only touch those entries come from replay bookkeeping and
	// must not start another pass.
	known := map[string]bool{}
	remember := func() {
		pending, err := s.engine.Pending()
		if err != nil {
			logger.Printf("read queue: %v", err)
			return
		}
		known = make(map[string]bool, len(pending))
		for _, op := range pending {
			known[op.ID] = true
		}
	}
	queueGrew := func() bool {
		pending, err := s.engine.Pending()
		if err != nil {
			logger.Printf("read queue: %v", err)
			return false
		}
		for _, op := range pending {
			if !known[op.ID] {
				return true
			}
		}
		return false
	}

	run := func(reason string) {
		remember()
		ctx, cancel := context.WithTimeout(rootCtx, a.v.GetDuration("timeout")+interval)
		defer cancel()
		report, err := s.engine.Replay(ctx)
		if err != nil {
			logger.Printf("replay (%s) failed: %v", reason, err)
			return
		}
		if report.Attempted > 0 || report.Discarded > 0 {
			logger.Printf("replay (%s): %d synced, %d failed, %d waiting, %d dropped",
				reason, report.Succeeded, report.Failed, report.Deferred, report.Discarded)
		}
	}

	queueChanged := make(chan struct{}, 1)
	if fc, ok := s.cache.(*localcache.FileCache); ok {
		go func() {
			err := localcache.WatchQueue(rootCtx, fc.Dir(), func() {
				select {
				case queueChanged <- struct{}{}:
				default:
				}
			})
			if err != nil {
				logger.Printf("queue watcher stopped: %v", err)
			}
		}()
	}

	run("startup")

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	timer := time.NewTimer(jitteredIntervalWithSample(interval, jitter, rng.Float64()))
	defer timer.Stop()
	probe := time.NewTicker(probeInterval)
	defer probe.Stop()
	for {
		select {
		case <-rootCtx.Done():
			logger.Printf("watch stopping: %v", rootCtx.Err())
			return nil
		case <-timer.C:
			run("interval")
			timer.Reset(jitteredIntervalWithSample(interval, jitter, rng.Float64()))
		case <-queueChanged:
			if s.engine.Online() && queueGrew() {
				run("queue changed")
			}
		case <-probe.C:
			if s.engine.Online() {
				continue
			}
			ctx, cancel := context.WithTimeout(rootCtx, a.v.GetDuration("timeout"))
			back := s.engine.Probe(ctx)
			cancel()
			if back {
				run("reconnected")
			}
		}
	}
}

func durationEnv(name string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %s", name, raw, fallback.String())
		return fallback
	}
	return value
}

func floatEnv(name string, fallback float64) float64 {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %f", name, raw, fallback)
		return fallback
	}
	return value
}

func clampJitterRatio(value float64) float64 {
	if value < 0 {
		return 0
	}
	if value > 1 {
		return 1
	}
	return value
}

func jitteredIntervalWithSample(base time.Duration, jitterRatio, sample float64) time.Duration {
	if base <= 0 {
		return 0
	}
	jitterRatio = clampJitterRatio(jitterRatio)
	if jitterRatio == 0 {
		return base
	}
	if sample < 0 {
		sample = 0
	} else if sample > 1 {
		sample = 1
	}
	factor := 1 + ((sample*2)-1)*jitterRatio
	if factor < 0 {
		factor = 0
	}
	delay := time.Duration(float64(base) * factor)
	if delay < time.Millisecond {
		return time.Millisecond
	}
	return delay
}
