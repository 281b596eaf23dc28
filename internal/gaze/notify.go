package gaze

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/danmuck/gazectl/internal/observability"
	"github.com/rs/zerolog"
)

// notifier runs listener callbacks. Every delivery gets its own goroutine and
// a panic in one callback is logged and contained.
type notifier struct {
	log      zerolog.Logger
	inflight sync.WaitGroup
}

func newNotifier(log zerolog.Logger) *notifier {
	return &notifier{log: log}
}

func (n *notifier) deliver(kind string, listener any, fn func()) {
	n.inflight.Add(1)
	go func() {
		defer n.inflight.Done()
		n.call(kind, listener, fn)
	}()
}

// call runs fn on the caller's goroutine with the same isolation as deliver.
func (n *notifier) call(kind string, listener any, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			observability.RecordListenerPanic(kind)
			n.log.Error().
				Str("kind", kind).
				Str("listener", listenerID(listener)).
				Interface("panic", r).
				Msg("listener failed")
		}
	}()
	fn()
}

// wait blocks until every delivery started so far has returned.
func (n *notifier) wait() {
	n.inflight.Wait()
}

func fanOut[T comparable](n *notifier, reg *Registry[T], fn func(T)) {
	for _, l := range reg.Snapshot() {
		n.deliver(reg.Name(), l, func() { fn(l) })
	}
}

func listenerID(l any) string {
	v := reflect.ValueOf(l)
	if v.Kind() == reflect.Pointer {
		return fmt.Sprintf("%T@%#x", l, v.Pointer())
	}
	return fmt.Sprintf("%T", l)
}
