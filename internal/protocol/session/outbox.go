package session

import (
	"sort"
	"sync"

	"github.com/danmuck/gazectl/internal/protocol"
)

// Pending stores in-flight calls by request id.
type Pending struct {
	mu    sync.Mutex
	next  int
	items map[int]*Call
}

func NewPending() *Pending {
	return &Pending{
		items: make(map[int]*Call),
	}
}

// Track assigns the next request id to req and registers its call.
func (p *Pending) Track(req protocol.Request) *Call {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.next++
	req.ID = p.next
	call := NewCall(p.next, req)
	p.items[call.ID] = call
	return call
}

// Resolve removes and returns the call registered for id.
func (p *Pending) Resolve(id int) (*Call, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	call, ok := p.items[id]
	if ok {
		delete(p.items, id)
	}
	return call, ok
}

func (p *Pending) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.items)
}

// Drain removes every call, ordered by id.
func (p *Pending) Drain() []*Call {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Call, 0, len(p.items))
	for id, call := range p.items {
		out = append(out, call)
		delete(p.items, id)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ID < out[j].ID
	})
	return out
}
