package bot

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/quailyquaily/taskporter/queue"
)

type SweeperConfig struct {
	// Interval between retry sweeps.
	Tick time.Duration
	// Max entries re-synced per tick.
	BatchSize int
	// Delay between entries inside one tick.
	EntryDelay time.Duration
	// Processing entries untouched for longer than this are returned to
	// pending at startup.
	StaleAfter time.Duration

	// Daily digest; disabled when the channel is empty.
	DigestCron    string
	DigestChannel string
}

func DefaultSweeperConfig() SweeperConfig {
	return SweeperConfig{
		Tick:       60 * time.Second,
		BatchSize:  5,
		EntryDelay: 2 * time.Second,
		StaleAfter: 10 * time.Minute,
		DigestCron: "0 9 * * *",
	}
}

// Sweeper retries pending entries on a fixed interval and posts the daily
// digest. One sweep runs at a time; a slow sweep skips ticks rather than
// stacking.
type Sweeper struct {
	store     queue.Store
	orch      *Orchestrator
	messenger Messenger
	cfg       SweeperConfig
	log       *slog.Logger

	cron *cron.Cron
	wg   sync.WaitGroup
}

func NewSweeper(store queue.Store, orch *Orchestrator, messenger Messenger, cfg SweeperConfig, log *slog.Logger) (*Sweeper, error) {
	if store == nil {
		return nil, fmt.Errorf("queue store is required")
	}
	if orch == nil {
		return nil, fmt.Errorf("orchestrator is required")
	}
	if cfg.Tick <= 0 {
		cfg.Tick = DefaultSweeperConfig().Tick
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultSweeperConfig().BatchSize
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = DefaultSweeperConfig().StaleAfter
	}
	if log == nil {
		log = slog.Default()
	}
	return &Sweeper{
		store:     store,
		orch:      orch,
		messenger: messenger,
		cfg:       cfg,
		log:       log,
	}, nil
}

// Start recovers orphaned entries, then runs the sweep loop and the digest
// schedule until ctx is canceled.
func (s *Sweeper) Start(ctx context.Context) error {
	recovered, err := s.store.RecoverStale(ctx, time.Now().Add(-s.cfg.StaleAfter))
	if err != nil {
		return fmt.Errorf("recover stale entries: %w", err)
	}
	if recovered > 0 {
		s.log.Warn("sweep_recovered_stale", "count", recovered)
	}

	if strings.TrimSpace(s.cfg.DigestChannel) != "" && strings.TrimSpace(s.cfg.DigestCron) != "" {
		s.cron = cron.New()
		if _, err := s.cron.AddFunc(s.cfg.DigestCron, func() {
			if err := s.postDigest(context.Background()); err != nil {
				s.log.Warn("digest_post_error", "error", err.Error())
			}
		}); err != nil {
			return fmt.Errorf("invalid digest cron %q: %w", s.cfg.DigestCron, err)
		}
		s.cron.Start()
	}

	s.log.Info("sweep_start",
		"tick", s.cfg.Tick.String(),
		"batch_size", s.cfg.BatchSize,
		"stale_after", s.cfg.StaleAfter.String(),
		"digest_channel", s.cfg.DigestChannel,
	)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop(ctx)
	}()
	return nil
}

// Wait blocks until the sweep loop has exited.
func (s *Sweeper) Wait() {
	s.wg.Wait()
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
}

func (s *Sweeper) loop(ctx context.Context) {
	t := time.NewTicker(s.cfg.Tick)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("sweep_stop", "reason", ctx.Err().Error())
			return
		case <-t.C:
			if err := s.SweepOnce(ctx); err != nil {
				s.log.Warn("sweep_tick_error", "error", err.Error())
			}
		}
	}
}

// SweepOnce re-syncs one capped batch of retryable entries.
func (s *Sweeper) SweepOnce(ctx context.Context) error {
	entries, err := s.store.ListPending(ctx, s.cfg.BatchSize)
	if err != nil {
		return err
	}
	for i, entry := range entries {
		if i > 0 {
			if err := sleepWithContext(ctx, s.cfg.EntryDelay); err != nil {
				return err
			}
		}
		if err := s.orch.SyncPending(ctx, entry); err != nil {
			s.log.Warn("sweep_entry_error", "entry_id", entry.ID, "error", err.Error())
		}
	}
	return nil
}

func (s *Sweeper) postDigest(ctx context.Context) error {
	if s.messenger == nil {
		return nil
	}
	counts, err := s.store.CountByStatus(ctx)
	if err != nil {
		return err
	}
	_, err = s.messenger.PostMessage(ctx, s.cfg.DigestChannel, RenderDigest(counts), "")
	return err
}
