package gaze

import (
	"sync"

	"github.com/danmuck/gazectl/internal/protocol"
)

// TrackerState is the device state reported by the server.
type TrackerState int

const (
	TrackerUndefined         TrackerState = -1
	TrackerConnected         TrackerState = 0
	TrackerNotConnected      TrackerState = 1
	TrackerConnectedBadFW    TrackerState = 2
	TrackerConnectedNoUSB3   TrackerState = 3
	TrackerConnectedNoStream TrackerState = 4
)

func (s TrackerState) String() string {
	switch s {
	case TrackerConnected:
		return "connected"
	case TrackerNotConnected:
		return "not_connected"
	case TrackerConnectedBadFW:
		return "bad_firmware"
	case TrackerConnectedNoUSB3:
		return "no_usb3"
	case TrackerConnectedNoStream:
		return "no_stream"
	default:
		return "undefined"
	}
}

type FrameRate int

const (
	FrameRateUndefined FrameRate = 0
	FrameRate30        FrameRate = 30
	FrameRate60        FrameRate = 60
)

// APIVersion is the protocol compliance level.
type APIVersion int

const (
	APIVersionUndefined APIVersion = 0
	APIVersion1         APIVersion = 1
)

// Screen is the active screen geometry. Physical sizes are meters.
type Screen struct {
	Index            int
	ResolutionWidth  int
	ResolutionHeight int
	PhysicalWidth    float64
	PhysicalHeight   float64
}

func undefinedScreen() Screen {
	return Screen{Index: -1}
}

// CalibrationPhase is the calibration state machine position.
type CalibrationPhase int

const (
	PhaseIdle CalibrationPhase = iota
	PhaseStarting
	PhaseSampling
	PhaseProcessingResult
	PhaseCalibrated
	PhaseNotCalibrated
	PhaseAborting
	PhaseClearing
)

func (p CalibrationPhase) String() string {
	switch p {
	case PhaseStarting:
		return "starting"
	case PhaseSampling:
		return "sampling"
	case PhaseProcessingResult:
		return "processing_result"
	case PhaseCalibrated:
		return "calibrated"
	case PhaseNotCalibrated:
		return "not_calibrated"
	case PhaseAborting:
		return "aborting"
	case PhaseClearing:
		return "clearing"
	default:
		return "idle"
	}
}

// calibrationRun is scoped to one calibration attempt.
type calibrationRun struct {
	total   int
	sampled int
	handler CalibrationProcessHandler
}

// State is the cached session state. All fields are guarded by mu; callers
// outside the package only see copies.
type State struct {
	mu sync.RWMutex

	active        bool
	version       APIVersion
	frameRate     FrameRate
	trackerState  TrackerState
	screen        Screen
	isCalibrating bool
	isCalibrated  bool
	lastResult    *protocol.CalibrationResult
	latestGaze    *protocol.GazeData

	phase CalibrationPhase
	run   *calibrationRun
}

func newState() *State {
	s := &State{}
	s.resetLocked()
	return s
}

func (s *State) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetLocked()
}

func (s *State) resetLocked() {
	s.active = false
	s.version = APIVersionUndefined
	s.frameRate = FrameRateUndefined
	s.trackerState = TrackerUndefined
	s.screen = undefinedScreen()
	s.isCalibrating = false
	s.isCalibrated = false
	s.lastResult = nil
	s.latestGaze = nil
	s.phase = PhaseIdle
	s.run = nil
}

func (s *State) setActive(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = v
}

func (s *State) Active() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

func (s *State) APIVersion() APIVersion {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

func (s *State) FrameRate() FrameRate {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.frameRate
}

func (s *State) TrackerState() TrackerState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.trackerState
}

func (s *State) Screen() Screen {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.screen
}

func (s *State) IsCalibrating() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isCalibrating
}

func (s *State) IsCalibrated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isCalibrated
}

func (s *State) LastCalibrationResult() *protocol.CalibrationResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastResult.Clone()
}

// LatestGaze returns the last frame and whether one has arrived.
func (s *State) LatestGaze() (protocol.GazeData, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.latestGaze == nil {
		return protocol.GazeData{}, false
	}
	return *s.latestGaze, true
}

func (s *State) CalibrationPhase() CalibrationPhase {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.phase
}

// SampledPoints returns how many points of the current run are sampled.
func (s *State) SampledPoints() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.run == nil {
		return 0
	}
	return s.run.sampled
}
