// Package updater runs the background ingest loop: build a snapshot from the
// vehicle feed, commit it to the store, sleep, repeat.
package updater

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"

	"github.com/campus-transit/transitbook/internal/db"
	"github.com/campus-transit/transitbook/internal/geo"
	"github.com/campus-transit/transitbook/internal/models"
	"github.com/campus-transit/transitbook/internal/realtime/ingest"
)

// ErrCommitFailed is returned for a cycle whose snapshot could not be
// stored. The loop keeps running.
var ErrCommitFailed = errors.New("snapshot commit failed")

// State is where the loop currently is
type State int32

const (
	Idle State = iota
	Fetching
	Committing
	Sleeping
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Fetching:
		return "fetching"
	case Committing:
		return "committing"
	case Sleeping:
		return "sleeping"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Snapshotter builds the bus snapshot for one cycle
type Snapshotter interface {
	BuildSnapshot(ctx context.Context, ref geo.Point, radius float64) ([]models.Bus, ingest.Stats, error)
	RoutesFor(buses []models.Bus) []models.RouteInfo
}

// Store is the updater's private store connection
type Store interface {
	CommitSnapshot(ctx context.Context, snap db.Snapshot, defaults db.BusDefaults) (string, error)
	Cleanup(ctx context.Context, retention time.Duration) (int, error)
}

// Config holds the loop settings
type Config struct {
	Interval    time.Duration
	MaxAttempts int
	RetryDelay  time.Duration
	Retention   time.Duration

	Reference geo.Point
	Radius    float64
	Location  ingest.LocationProvider

	Defaults db.BusDefaults
}

// Result describes one completed cycle
type Result struct {
	SnapshotID string
	Buses      int
	Attempts   int
	Stats      ingest.Stats
}

// Updater owns the write side of the bus table
type Updater struct {
	snapshots Snapshotter
	store     Store
	cfg       Config
	state     atomic.Int32

	// timer paces commit retries; nil uses a real timer
	timer backoff.Timer
	now   func() time.Time
}

// New creates an Updater. store must be a connection nothing else uses.
func New(snapshots Snapshotter, store Store, cfg Config) *Updater {
	if cfg.Interval <= 0 {
		cfg.Interval = 15 * time.Second
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 3
	}
	if cfg.RetryDelay < 0 {
		cfg.RetryDelay = 0
	}
	return &Updater{
		snapshots: snapshots,
		store:     store,
		cfg:       cfg,
		now:       time.Now,
	}
}

// State returns the current loop state
func (u *Updater) State() State {
	return State(u.state.Load())
}

func (u *Updater) setState(s State) {
	u.state.Store(int32(s))
}

// Run executes one cycle immediately and then one per interval until ctx is
// cancelled. Cancellation is only observed between cycles; a running cycle,
// retries included, always finishes.
func (u *Updater) Run(ctx context.Context) error {
	log.Info().
		Dur("interval", u.cfg.Interval).
		Int("max_attempts", u.cfg.MaxAttempts).
		Dur("retry_delay", u.cfg.RetryDelay).
		Msg("Updater started")

	ticker := time.NewTicker(u.cfg.Interval)
	defer ticker.Stop()

	for ctx.Err() == nil {
		if _, err := u.RunOnce(ctx); err != nil {
			log.Error().Err(err).Msg("Updater cycle failed")
		}

		select {
		case <-ctx.Done():
		case <-ticker.C:
		}
	}

	u.setState(Idle)
	log.Info().Msg("Updater stopped")
	return nil
}

// RunOnce runs a single fetch and commit cycle. A feed failure skips the
// cycle; a commit that fails, or stays busy for every attempt, returns an
// error wrapping ErrCommitFailed with nothing written.
func (u *Updater) RunOnce(ctx context.Context) (Result, error) {
	var res Result

	// The cycle is not interruptible once started
	ctx = context.WithoutCancel(ctx)
	defer u.setState(Sleeping)

	u.setState(Fetching)
	polledAt := u.now().UTC()
	ref := ingest.Reference(ctx, u.cfg.Location, u.cfg.Reference)

	buses, stats, err := u.snapshots.BuildSnapshot(ctx, ref, u.cfg.Radius)
	if err != nil {
		log.Warn().Err(err).Msg("Vehicle feed unavailable, skipping cycle")
		return res, fmt.Errorf("failed to build snapshot: %w", err)
	}
	res.Stats = stats
	res.Buses = len(buses)

	u.setState(Committing)
	snap := db.Snapshot{
		PolledAt: polledAt,
		Routes:   u.snapshots.RoutesFor(buses),
		Buses:    buses,
	}

	id, attempts, err := u.commit(ctx, snap)
	res.Attempts = attempts
	if err != nil {
		log.Error().
			Err(err).
			Int("attempts", attempts).
			Int("buses", len(buses)).
			Msg("Snapshot commit aborted")
		return res, fmt.Errorf("%w: %w", ErrCommitFailed, err)
	}
	res.SnapshotID = id

	log.Info().
		Str("snapshot_id", id).
		Int("buses", len(buses)).
		Int("routes", len(snap.Routes)).
		Int("attempts", attempts).
		Int("out_of_radius", stats.OutOfRadius).
		Int("unroutable", stats.Unroutable).
		Msg("Snapshot committed")

	if _, err := u.store.Cleanup(ctx, u.cfg.Retention); err != nil {
		log.Warn().Err(err).Msg("History cleanup failed")
	}
	return res, nil
}

// commit stores snap, retrying the same snapshot while the store reports
// busy. Attempts are capped at MaxAttempts with RetryDelay between them.
func (u *Updater) commit(ctx context.Context, snap db.Snapshot) (string, int, error) {
	var id string
	attempts := 0

	operation := func() error {
		attempts++
		var err error
		id, err = u.store.CommitSnapshot(ctx, snap, u.cfg.Defaults)
		if err == nil {
			return nil
		}
		if !db.IsBusy(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(err error, next time.Duration) {
		log.Warn().
			Err(err).
			Int("attempt", attempts).
			Dur("retry_in", next).
			Msg("Store busy, retrying snapshot commit")
	}

	policy := backoff.WithMaxRetries(backoff.NewConstantBackOff(u.cfg.RetryDelay), uint64(u.cfg.MaxAttempts-1))
	err := backoff.RetryNotifyWithTimer(operation, policy, notify, u.timer)
	return id, attempts, err
}
