package refresh

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Job re-fetches one cache entry. Key de-duplicates jobs that are queued or
// running.
type Job struct {
	Key string
	Run func(ctx context.Context) error
}

type Refresher struct {
	ch      chan Job
	inFly   sync.Map // key -> struct{}
	timeout time.Duration

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

func New(capacity int, workerCount int, timeout time.Duration) *Refresher {
	if capacity <= 0 {
		capacity = 256
	}
	if workerCount <= 0 {
		workerCount = 2
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	r := &Refresher{ch: make(chan Job, capacity), timeout: timeout}
	r.wg.Add(workerCount)
	for i := 0; i < workerCount; i++ {
		go r.worker()
	}
	return r
}

// Enqueue schedules j unless a job with the same key is pending. It reports
// whether the job was accepted.
func (r *Refresher) Enqueue(j Job) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed || j.Run == nil {
		return false
	}
	if _, exists := r.inFly.LoadOrStore(j.Key, struct{}{}); exists {
		return false
	}
	select {
	case r.ch <- j:
		return true
	default:
		// drop if saturated
		r.inFly.Delete(j.Key)
		log.Warn().Str("key", j.Key).Msg("refresh queue full, dropping job")
		return false
	}
}

// Close stops accepting jobs and waits for queued ones to finish.
func (r *Refresher) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	close(r.ch)
	r.mu.Unlock()
	r.wg.Wait()
}

func (r *Refresher) worker() {
	defer r.wg.Done()
	for j := range r.ch {
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		func() {
			defer func() {
				r.inFly.Delete(j.Key)
				cancel()
			}()
			if err := j.Run(ctx); err != nil {
				log.Warn().Err(err).Str("key", j.Key).Msg("background refresh failed")
			}
		}()
	}
}
