// Copyright (c) 2025 The Honeygraph developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package worker

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/spknetwork/honeygraph/cache"
	"github.com/spknetwork/honeygraph/co"
	"github.com/spknetwork/honeygraph/log"
	"github.com/spknetwork/honeygraph/metrics"
)

var logger = log.WithContext("pkg", "worker")

var (
	metricQueued    = metrics.LazyLoadGaugeVec("worker_queued", []string{"class"})
	metricProcessed = metrics.LazyLoadCounterVec("worker_jobs_total", []string{"kind", "status"})
)

// Pool/queue sizing. Block-class jobs mutate heavily and stay few; op
// batches are light and plentiful.
const (
	BlockWorkers = 4
	OpsWorkers   = 16
	MaxBlockJobs = 100
	MaxOpsJobs   = 1000

	maxAttempts    = 3
	initialBackoff = time.Second
	resultHistory  = 4096
)

// ErrQueueFull is returned when a class's backlog cap is reached. The
// submitter should push back on the stream rather than buffer more.
var ErrQueueFull = errors.New("worker queue full")

// Handler executes one job kind.
type Handler func(ctx context.Context, job *Job) error

// Queue schedules jobs onto the block and ops pools.
type Queue struct {
	mu       sync.Mutex
	handlers map[Kind]Handler
	pending  []*Job
	busyKeys map[string]bool
	counts   map[bool]int // by ops-class
	seq      uint64
	closed   bool

	results *cache.LRU
	dedup   *Dedup
	backoff time.Duration
	signal  co.Signal
	goes    co.Goes
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewQueue creates a stopped queue. Register handlers, then Start.
func NewQueue() *Queue {
	results, err := cache.NewLRU(resultHistory)
	if err != nil {
		// resultHistory is a positive constant
		panic(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Queue{
		handlers: make(map[Kind]Handler),
		busyKeys: make(map[string]bool),
		counts:   make(map[bool]int),
		results:  results,
		dedup:    NewDedup(),
		backoff:  initialBackoff,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Register installs the handler for a kind. Must be called before Start.
func (q *Queue) Register(kind Kind, h Handler) {
	q.handlers[kind] = h
}

// Dedup exposes the processed-operation set.
func (q *Queue) Dedup() *Dedup { return q.dedup }

// SetDedupTTL overrides the processed-operation suppression window.
func (q *Queue) SetDedupTTL(ttl time.Duration) { q.dedup.SetTTL(ttl) }

// Start spins up both worker pools.
func (q *Queue) Start() {
	for i := 0; i < BlockWorkers; i++ {
		q.goes.Go(func() { q.work(false) })
	}
	for i := 0; i < OpsWorkers; i++ {
		q.goes.Go(func() { q.work(true) })
	}
	logger.Info("worker pools started", "blockWorkers", BlockWorkers, "opsWorkers", OpsWorkers)
}

// Stop drains the pools. Queued jobs are abandoned; running handlers
// see their context cancelled.
func (q *Queue) Stop() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.cancel()
	q.signal.Broadcast()
	q.goes.Wait()
}

// Submit queues a job. Operations already processed within the dedup
// TTL are stripped from batch jobs before they are queued.
func (q *Queue) Submit(job *Job) (string, error) {
	if _, ok := q.handlers[job.Kind]; !ok {
		return "", errors.Errorf("no handler for job kind %s", job.Kind)
	}
	if job.Kind == KindBlock || job.Kind == KindOps {
		kept := job.Ops[:0]
		for _, op := range job.Ops {
			if !op.IsWriteMarker() && q.dedup.Seen(op.DedupKey()) {
				continue
			}
			kept = append(kept, op)
		}
		job.Ops = kept
	}

	ops := job.Kind == KindOps
	limit := MaxBlockJobs
	if ops {
		limit = MaxOpsJobs
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return "", errors.New("queue stopped")
	}
	if q.counts[ops] >= limit {
		q.mu.Unlock()
		return "", ErrQueueFull
	}
	q.counts[ops]++
	q.seq++
	job.seq = q.seq
	q.pending = append(q.pending, job)
	q.mu.Unlock()

	q.setResult(job, StatusQueued, nil)
	q.updateGauges()
	q.signal.Broadcast()
	return job.ID, nil
}

// Status returns the recorded state of a job id.
func (q *Queue) Status(id string) (Result, bool) {
	v, ok := q.results.Get(id)
	if !ok {
		return Result{}, false
	}
	return v.(Result), true
}

// Backlog returns the number of queued-or-running jobs per class.
func (q *Queue) Backlog() (blockJobs, opsJobs int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.counts[false], q.counts[true]
}

func (q *Queue) work(ops bool) {
	waiter := q.signal.NewWaiter()
	for {
		job, retry := q.next(ops)
		if job != nil {
			q.run(job, ops)
			continue
		}

		if retry > 0 {
			timer := time.NewTimer(retry)
			select {
			case <-q.ctx.Done():
				timer.Stop()
				return
			case <-waiter.C():
				timer.Stop()
			case <-timer.C:
			}
			continue
		}
		select {
		case <-q.ctx.Done():
			return
		case <-waiter.C():
		}
	}
}

// next pops the best eligible job of a class: highest priority first,
// then submission order, skipping jobs whose serialization key is busy
// or whose retry backoff has not elapsed. The returned duration is the
// nearest backoff deadline when only time blocks progress.
func (q *Queue) next(ops bool) (*Job, time.Duration) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := time.Now()
	best := -1
	var minWait time.Duration
	for i, job := range q.pending {
		if (job.Kind == KindOps) != ops {
			continue
		}
		if !job.notBefore.IsZero() && job.notBefore.After(now) {
			if w := job.notBefore.Sub(now); minWait == 0 || w < minWait {
				minWait = w
			}
			continue
		}
		if job.Key != "" && q.busyKeys[job.Key] {
			continue
		}
		if best < 0 || job.Priority > q.pending[best].Priority ||
			(job.Priority == q.pending[best].Priority && job.seq < q.pending[best].seq) {
			best = i
		}
	}
	if best < 0 {
		return nil, minWait
	}

	job := q.pending[best]
	q.pending = append(q.pending[:best], q.pending[best+1:]...)
	if job.Key != "" {
		q.busyKeys[job.Key] = true
	}
	return job, 0
}

func (q *Queue) run(job *Job, ops bool) {
	q.setResult(job, StatusRunning, nil)
	job.attempts++

	err := q.handlers[job.Kind](q.ctx, job)

	q.mu.Lock()
	if job.Key != "" {
		delete(q.busyKeys, job.Key)
	}
	requeue := err != nil && job.attempts < maxAttempts && q.ctx.Err() == nil
	if requeue {
		job.notBefore = time.Now().Add(q.backoff << (job.attempts - 1))
		q.pending = append(q.pending, job)
	} else {
		q.counts[ops]--
	}
	q.mu.Unlock()

	switch {
	case err == nil:
		for _, op := range job.Ops {
			if !op.IsWriteMarker() {
				q.dedup.Mark(op.DedupKey())
			}
		}
		q.setResult(job, StatusDone, nil)
		metricProcessed().AddWithLabel(1, map[string]string{"kind": string(job.Kind), "status": "done"})
	case requeue:
		logger.Warn("job failed, retrying", "kind", job.Kind, "id", job.ID,
			"attempt", job.attempts, "err", err)
		q.setResult(job, StatusQueued, err)
	default:
		logger.Error("job failed permanently", "kind", job.Kind, "id", job.ID,
			"attempts", job.attempts, "err", err)
		q.setResult(job, StatusFailed, err)
		metricProcessed().AddWithLabel(1, map[string]string{"kind": string(job.Kind), "status": "failed"})
	}
	q.updateGauges()
	q.signal.Broadcast()
}

func (q *Queue) setResult(job *Job, status Status, err error) {
	r := Result{
		ID:        job.ID,
		Kind:      job.Kind,
		Status:    status,
		Attempts:  job.attempts,
		BlockNum:  job.Block.BlockNum,
		UpdatedAt: time.Now().UTC(),
	}
	if err != nil {
		r.Error = err.Error()
	}
	q.results.Add(job.ID, r)
}

func (q *Queue) updateGauges() {
	q.mu.Lock()
	block, ops := q.counts[false], q.counts[true]
	q.mu.Unlock()
	metricQueued().SetWithLabel(int64(block), map[string]string{"class": "block"})
	metricQueued().SetWithLabel(int64(ops), map[string]string{"class": "ops"})
}
