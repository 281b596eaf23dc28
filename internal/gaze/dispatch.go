package gaze

import (
	"time"

	"github.com/danmuck/gazectl/internal/observability"
	"github.com/danmuck/gazectl/internal/protocol"
	"github.com/danmuck/gazectl/internal/protocol/session"
)

// HandleResponse implements transport.Handler. Each reply is processed on
// its own goroutine so the transport read loop never waits on listeners.
func (m *Manager) HandleResponse(resp protocol.Response, call *session.Call) {
	m.replies.Add(1)
	go func() {
		defer m.replies.Done()
		m.handleResponse(resp, call)
	}()
}

// OnConnectionStateChanged implements transport.Handler.
func (m *Manager) OnConnectionStateChanged(connected bool) {
	if !connected {
		m.log.Warn().Msg("tracker server connection lost")
	}
	m.notifyConnection(connected)
}

func (m *Manager) notifyConnection(connected bool) {
	fanOut(m.notify, m.connectionListeners, func(l ConnectionStateListener) {
		l.OnConnectionStateChanged(connected)
	})
}

// handleResponse classifies one reply and releases its call afterwards,
// whatever the outcome.
func (m *Manager) handleResponse(resp protocol.Response, call *session.Call) {
	var latency time.Duration
	if call != nil {
		latency = time.Since(call.IssuedAt)
	}
	observability.RecordReply(resp.Category, resp.Request, resp.StatusCode, latency)

	ok := false
	defer func() {
		if r := recover(); r != nil {
			m.dlog.Error().Interface("panic", r).Str("reply", resp.String()).Msg("reply handling failed")
			ok = false
		}
		call.Finish(ok)
	}()

	switch resp.Category {
	case protocol.CategoryTracker:
		if !resp.OK() {
			m.logFailure(resp)
			return
		}
		if resp.Request == protocol.RequestGet {
			values, err := resp.TrackerValues()
			if err != nil {
				m.dlog.Warn().Err(err).Msg("tracker reply dropped")
				return
			}
			m.applyTracker(values)
		}
		ok = true

	case protocol.CategoryCalibration:
		if !resp.OK() {
			m.cal.rejected(resp.Request)
			m.logFailure(resp)
			return
		}
		ok = m.handleCalibration(resp)

	case protocol.CategoryHeartbeat:
		ok = resp.OK()

	default:
		m.handleStatus(resp)
	}
}

func (m *Manager) handleCalibration(resp protocol.Response) bool {
	switch resp.Request {
	case protocol.RequestStart:
		m.cal.onStarted()
	case protocol.RequestPointStart:
	case protocol.RequestPointEnd:
		values, err := resp.PointEndValues()
		if err != nil {
			m.dlog.Warn().Err(err).Msg("pointend reply dropped")
			return false
		}
		m.cal.onPointEnd(values.CalibrationResult)
	case protocol.RequestAbort:
		m.cal.onAbort()
	case protocol.RequestClear:
		m.cal.onClear()
	default:
		m.dlog.Debug().Str("request", resp.Request).Msg("unknown calibration request")
	}
	return true
}

// handleStatus processes an error envelope. The update codes mean a slice of
// cached state went stale and is fetched again.
func (m *Manager) handleStatus(resp protocol.Response) {
	t := m.transport
	switch resp.StatusCode {
	case protocol.StatusCalibrationUpdate:
		m.dlog.Debug().Msg("calibration changed server side, resyncing")
		t.RequestCalibrationStates()
	case protocol.StatusScreenUpdate:
		m.dlog.Debug().Msg("screen changed server side, resyncing")
		t.RequestScreenStates()
	case protocol.StatusTrackerUpdate:
		m.dlog.Debug().Msg("tracker changed server side, resyncing")
		t.RequestTrackerState()
	default:
		m.logFailure(resp)
	}
}

func (m *Manager) logFailure(resp protocol.Response) {
	m.dlog.Warn().
		Str("category", resp.Category).
		Str("request", resp.Request).
		Int("statuscode", resp.StatusCode).
		Str("message", resp.ErrorValues().StatusMessage).
		Msg("request failed")
}

// applyTracker folds a tracker snapshot into the cached state. Only fields
// present in the reply are touched; listeners are notified after the state
// lock is released and only for values that actually changed.
func (m *Manager) applyTracker(v protocol.TrackerValues) {
	s := m.state
	s.mu.Lock()

	if v.Version != nil {
		s.version = APIVersion(*v.Version)
	}
	if v.FrameRate != nil {
		s.frameRate = FrameRate(*v.FrameRate)
	}

	trackerChanged := false
	if v.TrackerState != nil && TrackerState(*v.TrackerState) != s.trackerState {
		s.trackerState = TrackerState(*v.TrackerState)
		trackerChanged = true
	}
	trackerState := s.trackerState

	calEvents := m.cal.applySnapshotLocked(v)

	if v.ScreenResolutionWidth != nil {
		s.screen.ResolutionWidth = *v.ScreenResolutionWidth
	}
	if v.ScreenResolutionHeight != nil {
		s.screen.ResolutionHeight = *v.ScreenResolutionHeight
	}
	if v.ScreenPhysicalWidth != nil {
		s.screen.PhysicalWidth = *v.ScreenPhysicalWidth
	}
	if v.ScreenPhysicalHeight != nil {
		s.screen.PhysicalHeight = *v.ScreenPhysicalHeight
	}
	screenChanged := false
	if v.ScreenIndex != nil && *v.ScreenIndex != s.screen.Index {
		s.screen.Index = *v.ScreenIndex
		screenChanged = true
	}
	screen := s.screen

	var frame *protocol.GazeData
	if v.Frame != nil {
		gd := *v.Frame
		if err := gd.CorrectTimestamp(); err != nil {
			m.dlog.Trace().Err(err).Msg("frame timestamp kept")
		}
		s.latestGaze = &gd
		frame = &gd
		observability.RecordFrame()
	}
	s.mu.Unlock()

	if trackerChanged {
		fanOut(m.notify, m.trackerListeners, func(l TrackerStateListener) {
			l.OnTrackerStateChanged(trackerState)
		})
	}
	m.cal.emit(calEvents)
	if screenChanged {
		fanOut(m.notify, m.screenListeners, func(l ScreenStateListener) {
			l.OnScreenStatesChanged(screen)
		})
	}
	if frame != nil {
		gd := *frame
		fanOut(m.notify, m.gazeListeners, func(l GazeListener) {
			l.OnGazeUpdate(gd)
		})
	}
}
