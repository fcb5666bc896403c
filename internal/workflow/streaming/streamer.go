package streaming

import (
	"sync"

	"github.com/KevinKickass/SensorIntegration/internal/storage"
)

// AllExecutions subscribes to the events of every execution.
const AllExecutions = ""

type EventStreamer struct {
	mu          sync.RWMutex
	subscribers map[string][]chan *storage.ExecutionEvent
	bufferSize  int
}

func NewEventStreamer() *EventStreamer {
	return &EventStreamer{
		subscribers: make(map[string][]chan *storage.ExecutionEvent),
		bufferSize:  100,
	}
}

func (s *EventStreamer) Subscribe(executionID string) <-chan *storage.ExecutionEvent {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan *storage.ExecutionEvent, s.bufferSize)
	s.subscribers[executionID] = append(s.subscribers[executionID], ch)
	return ch
}

func (s *EventStreamer) Unsubscribe(executionID string, ch <-chan *storage.ExecutionEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	subs := s.subscribers[executionID]
	for i, sub := range subs {
		if sub == ch {
			s.subscribers[executionID] = append(subs[:i], subs[i+1:]...)
			close(sub)
			break
		}
	}
	if len(s.subscribers[executionID]) == 0 {
		delete(s.subscribers, executionID)
	}
}

// Broadcast delivers the event to subscribers of its execution and to
// AllExecutions subscribers. Full channels are skipped.
func (s *EventStreamer) Broadcast(event *storage.ExecutionEvent) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	deliver := func(subs []chan *storage.ExecutionEvent) {
		for _, ch := range subs {
			select {
			case ch <- event:
			default:
			}
		}
	}
	deliver(s.subscribers[event.ExecutionID])
	if event.ExecutionID != AllExecutions {
		deliver(s.subscribers[AllExecutions])
	}
}

func (s *EventStreamer) SubscriberCount(executionID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subscribers[executionID])
}
