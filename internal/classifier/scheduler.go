package classifier

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"fx-cortex/internal/domain"
	"fx-cortex/internal/observability"
	"fx-cortex/internal/storage"
)

// LabelSink receives labels for the outbound analytics sink.
type LabelSink interface {
	EnqueueLabel(l *domain.ArchetypeLabel) error
}

// Scheduler runs classifier rounds on an interval. It is the single
// coordinator for the global model version: after each round it writes a
// version marker to the VersionStore that workers poll, so no distributed
// lock ever touches hot-path state.
type Scheduler struct {
	classifier *Classifier
	snapshots  storage.SnapshotStore
	labels     storage.LabelStore
	versions   storage.VersionStore
	sink       LabelSink // optional
	log        *zap.Logger

	windowID    string
	interval    time.Duration
	versionBase string
	round       int64
}

// SchedulerOptions configures a Scheduler.
type SchedulerOptions struct {
	Classifier    *Classifier
	SnapshotStore storage.SnapshotStore
	LabelStore    storage.LabelStore
	VersionStore  storage.VersionStore
	Sink          LabelSink
	Logger        *zap.Logger

	// WindowID selects which window's snapshots feed classification.
	WindowID string

	// Interval between rounds.
	Interval time.Duration

	// VersionBase prefixes per-round model versions, e.g. "v1" -> "v1-r42".
	VersionBase string
}

// NewScheduler creates a Scheduler.
func NewScheduler(opts SchedulerOptions) *Scheduler {
	if opts.WindowID == "" {
		opts.WindowID = "30d"
	}
	if opts.Interval <= 0 {
		opts.Interval = 5 * time.Minute
	}
	if opts.VersionBase == "" {
		opts.VersionBase = "v1"
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Scheduler{
		classifier:  opts.Classifier,
		snapshots:   opts.SnapshotStore,
		labels:      opts.LabelStore,
		versions:    opts.VersionStore,
		sink:        opts.Sink,
		log:         opts.Logger,
		windowID:    opts.WindowID,
		interval:    opts.Interval,
		versionBase: opts.VersionBase,
	}
}

// Run executes rounds until the context is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.RunRound(ctx, time.Now()); err != nil {
				s.log.Error("classifier round failed", zap.Error(err))
			}
		}
	}
}

// RunRound executes one classification round: read a point-in-time snapshot
// set, cluster it, persist labels, bump the model-version marker.
func (s *Scheduler) RunRound(ctx context.Context, now time.Time) error {
	start := time.Now()
	snapshots, err := s.snapshots.ListLatest(ctx, s.windowID)
	if err != nil {
		observability.RecordClassifierRound("error", time.Since(start).Seconds())
		return fmt.Errorf("list latest snapshots: %w", err)
	}
	if len(snapshots) == 0 {
		return nil
	}

	s.round++
	version := fmt.Sprintf("%s-r%d", s.versionBase, s.round)

	labels := s.classifier.Classify(snapshots, version, now)
	if len(labels) > 0 {
		if err := s.labels.PutBulk(ctx, labels); err != nil {
			observability.RecordClassifierRound("error", time.Since(start).Seconds())
			return fmt.Errorf("store labels: %w", err)
		}
		if s.sink != nil {
			for _, l := range labels {
				if err := s.sink.EnqueueLabel(l); err != nil {
					return fmt.Errorf("enqueue label: %w", err)
				}
			}
		}
	}

	if err := s.versions.SetModelVersion(ctx, version); err != nil {
		return fmt.Errorf("set model version: %w", err)
	}

	observability.RecordClassifierRound("ok", time.Since(start).Seconds())
	observability.DefaultMetrics.TradersLabeled.Set(float64(len(labels)))
	observability.DefaultMetrics.TradersUnlabeled.Set(float64(len(snapshots) - len(labels)))

	s.log.Info("classifier round complete",
		zap.String("model_version", version),
		zap.Int("snapshots", len(snapshots)),
		zap.Int("labeled", len(labels)),
	)
	return nil
}
