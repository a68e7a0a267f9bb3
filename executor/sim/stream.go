package sim

import (
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// stream is a FIFO submission queue served by one goroutine. Work runs in
// submission order; the first error is retained and reported by every later
// Synchronize, matching the deferred-error model of vendor streams: once work
// failed, the stream is considered compromised.
type stream struct {
	id     string
	drv    *Driver
	device int

	work chan func() error
	done chan struct{}

	mu      sync.Mutex
	cond    *sync.Cond
	pending int
	err     error
	closed  bool
}

const streamQueueDepth = 128

func newStream(drv *Driver, device int) *stream {
	s := &stream{
		id:     uuid.NewString(),
		drv:    drv,
		device: device,
		work:   make(chan func() error, streamQueueDepth),
		done:   make(chan struct{}),
	}
	s.cond = sync.NewCond(&s.mu)
	go s.serve()
	return s
}

func (s *stream) serve() {
	defer close(s.done)
	for fn := range s.work {
		err := fn()
		s.mu.Lock()
		if err != nil && s.err == nil {
			s.err = err
		}
		s.pending--
		s.cond.Broadcast()
		s.mu.Unlock()
	}
}

// Enqueue implements executor.Stream.
func (s *stream) Enqueue(fn func() error) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errors.Errorf("stream %s on %s device %d is closed", s.id, s.drv.Name(), s.device)
	}
	s.pending++
	s.mu.Unlock()
	s.work <- fn
	return nil
}

// Synchronize implements executor.Stream: it blocks the caller until all
// previously enqueued work completed and returns the first deferred error.
func (s *stream) Synchronize() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for s.pending > 0 {
		s.cond.Wait()
	}
	return s.err
}

// Close implements executor.Stream. It drains outstanding work first;
// idempotent.
func (s *stream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	for s.pending > 0 {
		s.cond.Wait()
	}
	s.closed = true
	err := s.err
	s.mu.Unlock()

	close(s.work)
	<-s.done
	if err != nil {
		klog.V(1).Infof("stream %s on %s device %d closed with deferred error: %v", s.id, s.drv.Name(), s.device, err)
	}
	return nil
}
