package service

import (
	"sync"

	"bundlealert-miniapp/internal/features/wallet/transport"
)

// Session is the process-wide owner of the wallet transport handle.
// Every teardown bumps the epoch; work started under an older epoch must
// not touch the session. The Manager is its only writer.
type Session struct {
	mu        sync.Mutex
	transport transport.Transport
	epoch     uint64
}

func NewSession() *Session {
	return &Session{}
}

// Transport returns the held handle and the current epoch.
func (s *Session) Transport() (transport.Transport, uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transport, s.epoch
}

// Epoch returns the current epoch.
func (s *Session) Epoch() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.epoch
}

// install stores t if epoch is still current.
func (s *Session) install(epoch uint64, t transport.Transport) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.epoch != epoch {
		return false
	}
	s.transport = t
	return true
}

// clear drops the handle, bumps the epoch and returns the old handle.
func (s *Session) clear() (transport.Transport, uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	old := s.transport
	s.transport = nil
	s.epoch++
	return old, s.epoch
}

// clearIf is clear restricted to epoch, for teardowns triggered by one session's events.
func (s *Session) clearIf(epoch uint64) (transport.Transport, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.epoch != epoch {
		return nil, false
	}
	old := s.transport
	s.transport = nil
	s.epoch++
	return old, true
}
