package gaze

import (
	"github.com/danmuck/gazectl/internal/protocol"
	"github.com/rs/zerolog"
)

// calibration drives the calibration state machine over the shared State.
type calibration struct {
	state           *State
	notify          *notifier
	stateListeners  *Registry[CalibrationStateListener]
	resultListeners *Registry[CalibrationResultListener]
	log             zerolog.Logger
}

// calibrationEvents collects what one reply changed. It is built under the
// state lock and emitted after the lock is released.
type calibrationEvents struct {
	stateChanged  bool
	isCalibrating bool
	isCalibrated  bool
	resultChanged bool
	result        *protocol.CalibrationResult
}

func (c *calibration) emit(ev calibrationEvents) {
	if ev.stateChanged {
		fanOut(c.notify, c.stateListeners, func(l CalibrationStateListener) {
			l.OnCalibrationStateChanged(ev.isCalibrating, ev.isCalibrated)
		})
	}
	if ev.resultChanged {
		fanOut(c.notify, c.resultListeners, func(l CalibrationResultListener) {
			l.OnCalibrationChanged(ev.isCalibrated, ev.result.Clone())
		})
	}
}

func (c *calibration) callHandler(h CalibrationProcessHandler, fn func(CalibrationProcessHandler)) {
	if h == nil {
		return
	}
	c.notify.call("calibration_process", h, func() { fn(h) })
}

// begin opens a run of total points. It fails while a run is calibrating or
// a start is already in flight; the sampled counter is left alone then.
func (c *calibration) begin(total int, handler CalibrationProcessHandler) bool {
	s := c.state
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isCalibrating || s.phase == PhaseStarting {
		return false
	}
	s.run = &calibrationRun{total: total, handler: handler}
	s.phase = PhaseStarting
	return true
}

// markPhase moves to an in-flight phase (aborting, clearing) before the
// request is sent.
func (c *calibration) markPhase(p CalibrationPhase) {
	s := c.state
	s.mu.Lock()
	defer s.mu.Unlock()
	s.phase = p
}

// rejected rolls back an in-flight phase after the server refused request.
func (c *calibration) rejected(request string) {
	s := c.state
	s.mu.Lock()
	defer s.mu.Unlock()
	switch request {
	case protocol.RequestStart:
		if s.phase == PhaseStarting && !s.isCalibrating {
			s.phase = PhaseIdle
			s.run = nil
		}
	case protocol.RequestAbort, protocol.RequestClear:
		if s.phase == PhaseAborting || s.phase == PhaseClearing {
			s.phase = settledPhaseLocked(s)
		}
	}
}

func (c *calibration) onStarted() {
	s := c.state
	s.mu.Lock()
	changed := !s.isCalibrating
	s.isCalibrating = true
	s.phase = PhaseSampling
	if s.run == nil {
		s.run = &calibrationRun{}
	}
	handler := s.run.handler
	ev := calibrationEvents{stateChanged: changed, isCalibrating: true, isCalibrated: s.isCalibrated}
	s.mu.Unlock()

	c.emit(ev)
	c.callHandler(handler, func(h CalibrationProcessHandler) { h.OnCalibrationStarted() })
}

func (c *calibration) onPointEnd(result *protocol.CalibrationResult) {
	if result == nil {
		c.onPointSampled()
		return
	}
	c.onResult(result)
}

func (c *calibration) onPointSampled() {
	s := c.state
	s.mu.Lock()
	if s.run == nil {
		s.mu.Unlock()
		c.log.Debug().Msg("pointend without calibration run")
		return
	}
	s.run.sampled++
	sampled, total, handler := s.run.sampled, s.run.total, s.run.handler
	processing := total > 0 && sampled == total
	if processing {
		s.phase = PhaseProcessingResult
	}
	s.mu.Unlock()

	progress := 0.0
	if total > 0 {
		progress = min(float64(sampled)/float64(total), 1)
	}
	c.callHandler(handler, func(h CalibrationProcessHandler) { h.OnCalibrationProgress(progress) })
	if processing {
		c.callHandler(handler, func(h CalibrationProcessHandler) { h.OnCalibrationProcessing() })
	}
}

func (c *calibration) onResult(result *protocol.CalibrationResult) {
	s := c.state
	s.mu.Lock()
	wasCalibrating, wasCalibrated := s.isCalibrating, s.isCalibrated
	s.isCalibrated = result.Result
	s.isCalibrating = !result.Result

	var handler CalibrationProcessHandler
	if s.run != nil {
		s.run.sampled = max(s.run.sampled-result.ResampleCount(), 0)
		handler = s.run.handler
		if result.Result {
			s.run.handler = nil
		}
	}
	if result.Result {
		s.phase = PhaseCalibrated
	} else {
		s.phase = PhaseNotCalibrated
	}

	ev := calibrationEvents{
		stateChanged:  wasCalibrating != s.isCalibrating || wasCalibrated != s.isCalibrated,
		isCalibrating: s.isCalibrating,
		isCalibrated:  s.isCalibrated,
	}
	if !s.lastResult.Equal(result) {
		s.lastResult = result.Clone()
		ev.resultChanged = true
		ev.result = s.lastResult
	}
	s.mu.Unlock()

	c.emit(ev)
	c.callHandler(handler, func(h CalibrationProcessHandler) { h.OnCalibrationResult(result.Clone()) })
}

func (c *calibration) onAbort() {
	s := c.state
	s.mu.Lock()
	changed := s.isCalibrating
	s.isCalibrating = false
	s.phase = PhaseIdle
	s.run = nil
	ev := calibrationEvents{stateChanged: changed, isCalibrating: false, isCalibrated: s.isCalibrated}
	s.mu.Unlock()

	c.emit(ev)
}

func (c *calibration) onClear() {
	s := c.state
	s.mu.Lock()
	changed := s.isCalibrating || s.isCalibrated
	s.isCalibrating = false
	s.isCalibrated = false
	s.lastResult = nil
	s.phase = PhaseIdle
	s.run = nil
	s.mu.Unlock()

	c.emit(calibrationEvents{stateChanged: changed})
}

// applySnapshotLocked reconciles calibration flags and result from a tracker
// snapshot. Both flags are compared before anything is emitted so one reply
// yields at most one state notification. Caller holds s.mu.
func (c *calibration) applySnapshotLocked(v protocol.TrackerValues) calibrationEvents {
	s := c.state
	var ev calibrationEvents
	if v.IsCalibrating != nil {
		if *v.IsCalibrating != s.isCalibrating {
			ev.stateChanged = true
		}
		s.isCalibrating = *v.IsCalibrating
	}
	if v.IsCalibrated != nil {
		if *v.IsCalibrated != s.isCalibrated {
			ev.stateChanged = true
		}
		s.isCalibrated = *v.IsCalibrated
	}
	if v.CalibrationResult != nil && !s.lastResult.Equal(v.CalibrationResult) {
		s.lastResult = v.CalibrationResult.Clone()
		ev.resultChanged = true
		ev.result = s.lastResult
	}
	if ev.stateChanged {
		switch {
		case s.isCalibrating && s.phase == PhaseIdle:
			s.phase = PhaseSampling
		case !s.isCalibrating && s.phase != PhaseStarting:
			s.phase = settledPhaseLocked(s)
		}
	}
	ev.isCalibrating = s.isCalibrating
	ev.isCalibrated = s.isCalibrated
	return ev
}

func settledPhaseLocked(s *State) CalibrationPhase {
	switch {
	case s.isCalibrating:
		return PhaseSampling
	case s.isCalibrated:
		return PhaseCalibrated
	default:
		return PhaseIdle
	}
}
