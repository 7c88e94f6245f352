package sampler

import (
	"context"
	"sync"
)

// Static is a programmable sampler for tests and dev runs without wireless
// hardware.
type Static struct {
	mu       sync.Mutex
	network  string
	sent     int64
	received int64
	err      error
}

func NewStatic() *Static {
	return &Static{}
}

// Set replaces the current reading.
func (s *Static) Set(network string, sent, received int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.network = network
	s.sent = sent
	s.received = received
	s.err = nil
}

// Fail makes both reads return err until the next Set.
func (s *Static) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func (s *Static) Counters(_ context.Context) (int64, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return 0, 0, s.err
	}
	return s.sent, s.received, nil
}

func (s *Static) NetworkName(_ context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return "", s.err
	}
	return s.network, nil
}
