package main

import (
	"context"
	"sync"

	"sockopt/protocol"
	"sockopt/server"
)

// store keeps the last SET body of every command id and returns it on GET.
type store struct {
	mu     sync.RWMutex
	values map[int32][]byte
	limit  int
}

func newStore(limit int) *store {
	return &store{values: make(map[int32][]byte), limit: limit}
}

func (s *store) set(_ context.Context, cmd int32, in []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(in) == 0 {
		delete(s.values, cmd)
		return nil
	}
	if _, exists := s.values[cmd]; !exists && s.limit > 0 && len(s.values) >= s.limit {
		return protocol.ServerError(protocol.CodeBusy, "store full")
	}
	s.values[cmd] = append([]byte(nil), in...)
	return nil
}

func (s *store) get(_ context.Context, cmd int32, _ []byte) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v := s.values[cmd]
	if v == nil {
		return nil, nil
	}
	return append([]byte(nil), v...), nil
}

func (s *store) sockopt(min, max int32) *server.Sockopt {
	return &server.Sockopt{
		Name:   "store",
		SetMin: min, SetMax: max, Set: s.set,
		GetMin: min, GetMax: max, Get: s.get,
	}
}
