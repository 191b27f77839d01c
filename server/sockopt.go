package server

import (
	"context"
	"fmt"
	"sync"

	"sockopt/protocol"
)

// SetFunc applies a configuration command.
type SetFunc func(ctx context.Context, cmd int32, in []byte) error

// GetFunc answers a query command. A nil or empty result means "no data".
type GetFunc func(ctx context.Context, cmd int32, in []byte) ([]byte, error)

// Sockopt is the block of commands one module serves. Each direction owns an
// inclusive id range; a direction with a nil func is not served. Command ids
// are scoped per direction, so a SET range may reuse ids of a GET range.
type Sockopt struct {
	Name   string
	SetMin int32
	SetMax int32
	Set    SetFunc
	GetMin int32
	GetMax int32
	Get    GetFunc
}

func (o *Sockopt) serves(kind protocol.OpKind, cmd int32) bool {
	switch kind {
	case protocol.OpSet:
		return o.Set != nil && cmd >= o.SetMin && cmd <= o.SetMax
	case protocol.OpGet:
		return o.Get != nil && cmd >= o.GetMin && cmd <= o.GetMax
	}
	return false
}

func (o *Sockopt) validate() error {
	if o.Name == "" {
		return fmt.Errorf("sockopt: name is required")
	}
	if o.Set == nil && o.Get == nil {
		return fmt.Errorf("sockopt %s: neither set nor get handler", o.Name)
	}
	if o.Set != nil && o.SetMin > o.SetMax {
		return fmt.Errorf("sockopt %s: set range [%d,%d] is empty", o.Name, o.SetMin, o.SetMax)
	}
	if o.Get != nil && o.GetMin > o.GetMax {
		return fmt.Errorf("sockopt %s: get range [%d,%d] is empty", o.Name, o.GetMin, o.GetMax)
	}
	return nil
}

func overlaps(aMin, aMax, bMin, bMax int32) bool {
	return aMin <= bMax && bMin <= aMax
}

// sockoptTable tracks registered blocks and rejects overlapping ranges.
type sockoptTable struct {
	mu   sync.RWMutex
	opts []*Sockopt
}

func (t *sockoptTable) register(opt *Sockopt) error {
	if opt == nil {
		return fmt.Errorf("sockopt: nil registration")
	}
	if err := opt.validate(); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for _, o := range t.opts {
		if o.Name == opt.Name {
			return fmt.Errorf("sockopt %s: already registered", opt.Name)
		}
		if opt.Set != nil && o.Set != nil && overlaps(opt.SetMin, opt.SetMax, o.SetMin, o.SetMax) {
			return fmt.Errorf("sockopt %s: set range [%d,%d] overlaps %s", opt.Name, opt.SetMin, opt.SetMax, o.Name)
		}
		if opt.Get != nil && o.Get != nil && overlaps(opt.GetMin, opt.GetMax, o.GetMin, o.GetMax) {
			return fmt.Errorf("sockopt %s: get range [%d,%d] overlaps %s", opt.Name, opt.GetMin, opt.GetMax, o.Name)
		}
	}
	t.opts = append(t.opts, opt)
	return nil
}

func (t *sockoptTable) unregister(name string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, o := range t.opts {
		if o.Name == name {
			t.opts = append(t.opts[:i], t.opts[i+1:]...)
			return true
		}
	}
	return false
}

func (t *sockoptTable) lookup(kind protocol.OpKind, cmd int32) *Sockopt {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, o := range t.opts {
		if o.serves(kind, cmd) {
			return o
		}
	}
	return nil
}
