package settlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/coder/quartz"
)

const (
	defaultQueueSize  = 64
	defaultMaxRetries = 3
	defaultRetryDelay = 2 * time.Second
)

// Job settles one finished game: pay the pot to the winner, record a win for
// them and a loss for everyone else, and write history for all of them. TxnID
// seeds the idempotent per-operation transaction ids, so re-running a job
// after a partial failure is safe.
type Job struct {
	TxnID         string
	RoomID        string
	Mode          string // FREE or PAID
	EntryFee      int
	Pot           int
	WinnerAccount string
	LoserAccounts []string
}

// StatsFunc receives fresh account stats as settlement operations land; the
// gateway uses it to push private stats_update messages.
type StatsFunc func(accountID string, stats Stats)

// Settler applies settlement jobs on a worker goroutine, off the broadcast
// path. Ledger failures are logged and retried with backoff; the game result
// already broadcast to players is never rolled back.
type Settler struct {
	ledger     Ledger
	history    History
	clock      quartz.Clock
	logger     *log.Logger
	onStats    StatsFunc
	jobs       chan Job
	maxRetries int
	retryDelay time.Duration
	done       chan struct{}
}

// NewSettler wires a settler to its collaborators. onStats may be nil.
func NewSettler(ledger Ledger, history History, clock quartz.Clock, logger *log.Logger, onStats StatsFunc) *Settler {
	return &Settler{
		ledger:     ledger,
		history:    history,
		clock:      clock,
		logger:     logger.WithPrefix("settler"),
		onStats:    onStats,
		jobs:       make(chan Job, defaultQueueSize),
		maxRetries: defaultMaxRetries,
		retryDelay: defaultRetryDelay,
		done:       make(chan struct{}),
	}
}

// Start runs the worker until ctx is cancelled.
func (s *Settler) Start(ctx context.Context) {
	go s.run(ctx)
}

// Done is closed once the worker has drained and exited.
func (s *Settler) Done() <-chan struct{} {
	return s.done
}

// Enqueue hands a job to the worker without blocking the caller. A full
// queue is logged and the job dropped; the idempotent txn ids mean an
// operator can replay it safely.
func (s *Settler) Enqueue(job Job) {
	select {
	case s.jobs <- job:
	default:
		s.logger.Error("Settlement queue full, dropping job", "txn", job.TxnID, "room", job.RoomID)
	}
}

func (s *Settler) run(ctx context.Context) {
	defer close(s.done)

	for {
		select {
		case <-ctx.Done():
			return
		case job := <-s.jobs:
			s.settle(ctx, job)
		}
	}
}

// settle retries the whole job until it succeeds or the retry budget runs
// out. Individual operations that already landed are no-ops on replay.
func (s *Settler) settle(ctx context.Context, job Job) {
	logger := s.logger.With("txn", job.TxnID, "room", job.RoomID)

	for attempt := 0; ; attempt++ {
		err := s.apply(ctx, job)
		if err == nil {
			logger.Info("Game settled", "pot", job.Pot, "winner", job.WinnerAccount, "losers", len(job.LoserAccounts))
			return
		}
		if attempt >= s.maxRetries {
			logger.Error("Giving up on settlement, manual replay required", "error", err, "attempts", attempt+1)
			return
		}
		logger.Warn("Settlement attempt failed, retrying", "error", err, "attempt", attempt+1)

		timer := s.clock.NewTimer(s.retryDelay, "settler", "retry")
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (s *Settler) apply(ctx context.Context, job Job) error {
	if job.WinnerAccount != "" {
		if job.Pot > 0 {
			stats, err := s.ledger.Credit(ctx, job.WinnerAccount, job.Pot, job.TxnID+":credit")
			if err != nil {
				return fmt.Errorf("credit winner: %w", err)
			}
			s.pushStats(job.WinnerAccount, stats)
		}

		stats, err := s.ledger.RecordResult(ctx, job.WinnerAccount, true, job.TxnID+":win")
		if err != nil {
			return fmt.Errorf("record win: %w", err)
		}
		s.pushStats(job.WinnerAccount, stats)

		if err := s.history.Record(ctx, GameRecord{
			AccountID: job.WinnerAccount,
			RoomID:    job.RoomID,
			Mode:      job.Mode,
			EntryFee:  job.EntryFee,
			Winnings:  job.Pot,
			Result:    ResultWin,
			At:        s.clock.Now(),
		}); err != nil {
			return fmt.Errorf("record winner history: %w", err)
		}
	}

	var errs []error
	for _, account := range job.LoserAccounts {
		if account == "" {
			continue
		}
		stats, err := s.ledger.RecordResult(ctx, account, false, job.TxnID+":loss:"+account)
		if err != nil {
			errs = append(errs, fmt.Errorf("record loss for %s: %w", account, err))
			continue
		}
		s.pushStats(account, stats)

		if err := s.history.Record(ctx, GameRecord{
			AccountID: account,
			RoomID:    job.RoomID,
			Mode:      job.Mode,
			EntryFee:  job.EntryFee,
			Winnings:  0,
			Result:    ResultLoss,
			At:        s.clock.Now(),
		}); err != nil {
			errs = append(errs, fmt.Errorf("record loser history for %s: %w", account, err))
		}
	}
	return errors.Join(errs...)
}

func (s *Settler) pushStats(accountID string, stats Stats) {
	if s.onStats != nil {
		s.onStats(accountID, stats)
	}
}
