package grantkit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fernandezvara/dbkit"
)

// Transaction executes a function within a database transaction with
// automatic commit/rollback. The callback receives a Service bound to the
// transaction; nested calls reuse the surrounding transaction via savepoints.
// Every multi-step mutation in the service runs through this, so a concurrent
// resolver never observes a half-applied state.
func (s *Service) Transaction(ctx context.Context, fn func(ctx context.Context, tx *Service) error) error {
	start := time.Now()
	var err error

	switch db := s.db.(type) {
	case *dbkit.Tx:
		err = db.Transaction(ctx, func(tx *dbkit.Tx) error {
			return fn(ctx, s.withDB(tx))
		})
	case *dbkit.DBKit:
		err = db.Transaction(ctx, func(tx *dbkit.Tx) error {
			return fn(ctx, s.withDB(tx))
		})
	default:
		err = fmt.Errorf("transaction support requires a dbkit.DBKit or dbkit.Tx instance")
	}

	s.txMonitor.record(time.Since(start), err == nil)
	return err
}

// ReadOnlyTransaction executes a function within a read-only transaction,
// for callers that need a consistent view across several reads.
func (s *Service) ReadOnlyTransaction(ctx context.Context, fn func(ctx context.Context, tx *Service) error) error {
	db, ok := s.db.(*dbkit.DBKit)
	if !ok {
		return s.Transaction(ctx, fn)
	}
	start := time.Now()
	err := db.TransactionWithOptions(ctx, dbkit.ReadOnlyTxOptions(), func(tx *dbkit.Tx) error {
		return fn(ctx, s.withDB(tx))
	})
	s.txMonitor.record(time.Since(start), err == nil)
	return err
}

// withDB returns a shallow copy of the service bound to the given handle,
// sharing cache, config, registry and counters with the parent.
func (s *Service) withDB(db dbkit.IDB) *Service {
	clone := *s
	clone.db = db
	return &clone
}

// TransactionMetrics provides transaction performance and failure counters.
type TransactionMetrics struct {
	Total           int64         `json:"total"`
	Succeeded       int64         `json:"succeeded"`
	Failed          int64         `json:"failed"`
	AverageDuration time.Duration `json:"average_duration"`
	MaxDuration     time.Duration `json:"max_duration"`
	LastReset       time.Time     `json:"last_reset"`
}

// TransactionMetrics returns the counters accumulated since the last reset.
func (s *Service) TransactionMetrics() TransactionMetrics {
	return s.txMonitor.metrics()
}

// ResetTransactionMetrics zeroes the counters.
func (s *Service) ResetTransactionMetrics() {
	s.txMonitor.reset()
}

type transactionMonitor struct {
	mu            sync.Mutex
	total         int64
	succeeded     int64
	failed        int64
	totalDuration int64 // nanoseconds
	maxDuration   int64 // nanoseconds
	lastReset     time.Time
}

func newTransactionMonitor() *transactionMonitor {
	return &transactionMonitor{lastReset: time.Now()}
}

func (tm *transactionMonitor) record(duration time.Duration, success bool) {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	tm.total++
	tm.totalDuration += int64(duration)
	if success {
		tm.succeeded++
	} else {
		tm.failed++
	}
	if d := int64(duration); d > tm.maxDuration {
		tm.maxDuration = d
	}
}

func (tm *transactionMonitor) metrics() TransactionMetrics {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	var avg time.Duration
	if tm.total > 0 {
		avg = time.Duration(tm.totalDuration / tm.total)
	}
	return TransactionMetrics{
		Total:           tm.total,
		Succeeded:       tm.succeeded,
		Failed:          tm.failed,
		AverageDuration: avg,
		MaxDuration:     time.Duration(tm.maxDuration),
		LastReset:       tm.lastReset,
	}
}

func (tm *transactionMonitor) reset() {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	tm.total = 0
	tm.succeeded = 0
	tm.failed = 0
	tm.totalDuration = 0
	tm.maxDuration = 0
	tm.lastReset = time.Now()
}
