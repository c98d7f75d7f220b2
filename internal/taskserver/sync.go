package taskserver

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// SyncTaskServer executes Enqueue synchronously on the calling
// goroutine, as spec.md §4.5 requires for tests ("An in-memory variant
// that executes synchronously on Enqueue is supported for tests").
// ScheduleAt still defers to a timer, since a deferred-by-definition
// call cannot also be synchronous.
type SyncTaskServer struct {
	handler Handler

	mu      sync.Mutex
	nextID  int64
	timers  map[Handle]*time.Timer
}

func NewSync(handler Handler) *SyncTaskServer {
	return &SyncTaskServer{handler: handler, timers: make(map[Handle]*time.Timer)}
}

func (s *SyncTaskServer) newHandle() Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	return Handle(s.nextID)
}

func (s *SyncTaskServer) Enqueue(ctx context.Context, executionID int64, input json.RawMessage) (Handle, error) {
	h := s.newHandle()
	s.handler(ctx, executionID, input)
	return h, nil
}

func (s *SyncTaskServer) ScheduleAt(ctx context.Context, executionID int64, input json.RawMessage, instant time.Time) (Handle, error) {
	h := s.newHandle()
	delay := time.Until(instant)
	if delay < 0 {
		delay = 0
	}

	timer := time.AfterFunc(delay, func() {
		s.mu.Lock()
		delete(s.timers, h)
		s.mu.Unlock()
		s.handler(context.Background(), executionID, input)
	})

	s.mu.Lock()
	s.timers[h] = timer
	s.mu.Unlock()
	return h, nil
}

func (s *SyncTaskServer) TryCancel(handle Handle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	timer, ok := s.timers[handle]
	if !ok {
		return false
	}
	delete(s.timers, handle)
	return timer.Stop()
}
