package session

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/gazectl/internal/protocol"
)

// Call correlates one issued request with the reply that finishes it.
type Call struct {
	ID       int
	Request  protocol.Request
	IssuedAt time.Time

	done chan struct{}
	once sync.Once
	ok   atomic.Bool
}

func NewCall(id int, req protocol.Request) *Call {
	return &Call{
		ID:       id,
		Request:  req,
		IssuedAt: time.Now(),
		done:     make(chan struct{}),
	}
}

// Finish releases every waiter. Only the first call has an effect.
func (c *Call) Finish(ok bool) {
	if c == nil {
		return
	}
	c.once.Do(func() {
		c.ok.Store(ok)
		close(c.done)
	})
}

func (c *Call) Done() <-chan struct{} {
	return c.done
}

func (c *Call) Finished() bool {
	if c == nil {
		return false
	}
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// OK reports whether the call finished with a successful reply.
func (c *Call) OK() bool {
	return c.Finished() && c.ok.Load()
}

// Wait blocks until the call finishes, timeout elapses, or ctx is done.
// It reports whether the call finished. A nil call never finishes.
func (c *Call) Wait(ctx context.Context, timeout time.Duration) bool {
	if c == nil {
		return false
	}
	if ctx == nil {
		ctx = context.Background()
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-c.done:
		return true
	case <-timer.C:
		return c.Finished()
	case <-ctx.Done():
		return c.Finished()
	}
}
