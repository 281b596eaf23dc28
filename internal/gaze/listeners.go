package gaze

import (
	"reflect"
	"sync"

	"github.com/danmuck/gazectl/internal/protocol"
)

type GazeListener interface {
	OnGazeUpdate(gaze protocol.GazeData)
}

type CalibrationResultListener interface {
	OnCalibrationChanged(isCalibrated bool, result *protocol.CalibrationResult)
}

type CalibrationStateListener interface {
	OnCalibrationStateChanged(isCalibrating, isCalibrated bool)
}

type TrackerStateListener interface {
	OnTrackerStateChanged(state TrackerState)
}

type ScreenStateListener interface {
	OnScreenStatesChanged(screen Screen)
}

type ConnectionStateListener interface {
	OnConnectionStateChanged(connected bool)
}

// CalibrationProcessHandler follows one calibration run. It is called
// directly on the reply goroutine, not through a registry, so it must not
// call Manager.Deactivate or Manager.Close.
type CalibrationProcessHandler interface {
	OnCalibrationStarted()
	OnCalibrationProgress(progress float64)
	OnCalibrationProcessing()
	OnCalibrationResult(result *protocol.CalibrationResult)
}

// Registry is a set of listener handles. Handles must be comparable values,
// typically pointers. Nil handles and handles whose dynamic type is not
// comparable, such as func values, are ignored.
type Registry[T comparable] struct {
	name  string
	mu    sync.RWMutex
	items map[T]struct{}
}

func NewRegistry[T comparable](name string) *Registry[T] {
	return &Registry[T]{
		name:  name,
		items: make(map[T]struct{}),
	}
}

func (r *Registry[T]) Name() string {
	return r.name
}

// Add reports whether l was added. Adding a member again is a no-op.
func (r *Registry[T]) Add(l T) bool {
	if unusable(l) {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[l]; ok {
		return false
	}
	r.items[l] = struct{}{}
	return true
}

// Remove reports whether l was a member.
func (r *Registry[T]) Remove(l T) bool {
	if unusable(l) {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[l]; !ok {
		return false
	}
	delete(r.items, l)
	return true
}

func (r *Registry[T]) Has(l T) bool {
	if unusable(l) {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.items[l]
	return ok
}

func (r *Registry[T]) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.items)
}

func (r *Registry[T]) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	clear(r.items)
}

// Snapshot copies the current members. Order is unspecified.
func (r *Registry[T]) Snapshot() []T {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]T, 0, len(r.items))
	for l := range r.items {
		out = append(out, l)
	}
	return out
}

func unusable[T comparable](l T) bool {
	var zero T
	if l == zero {
		return true
	}
	typ := reflect.TypeOf(any(l))
	return typ == nil || !typ.Comparable()
}
