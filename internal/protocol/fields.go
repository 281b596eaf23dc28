package protocol

// Envelope keys.
const (
	KeyCategory   = "category"
	KeyRequest    = "request"
	KeyStatusCode = "statuscode"
	KeyValues     = "values"
	KeyID         = "id"
)

// Categories. CategoryError is the empty category used by error envelopes.
const (
	CategoryTracker     = "tracker"
	CategoryCalibration = "calibration"
	CategoryHeartbeat   = "heartbeat"
	CategoryError       = ""
)

// Request kinds.
const (
	RequestGet        = "get"
	RequestSet        = "set"
	RequestStart      = "start"
	RequestPointStart = "pointstart"
	RequestPointEnd   = "pointend"
	RequestAbort      = "abort"
	RequestClear      = "clear"
)

// Status codes.
const (
	StatusOK                = 200
	StatusCalibrationUpdate = 800
	StatusScreenUpdate      = 801
	StatusTrackerUpdate     = 802
)

// Tracker value keys.
const (
	TrackerPush                 = "push"
	TrackerHeartbeatInterval    = "heartbeatinterval"
	TrackerVersion              = "version"
	TrackerState                = "trackerstate"
	TrackerFrameRate            = "framerate"
	TrackerIsCalibrated         = "iscalibrated"
	TrackerIsCalibrating        = "iscalibrating"
	TrackerCalibrationResult    = "calibresult"
	TrackerFrame                = "frame"
	TrackerScreenIndex          = "screenindex"
	TrackerScreenResolutionW    = "screenresw"
	TrackerScreenResolutionH    = "screenresh"
	TrackerScreenPhysicalWidth  = "screenpsyw"
	TrackerScreenPhysicalHeight = "screenpsyh"
)

// Calibration request value keys.
const (
	CalibrationPointCount = "pointcount"
	CalibrationX          = "x"
	CalibrationY          = "y"
)

// Key sets requested by the state re-sync paths.
var (
	AllStateKeys = []string{
		TrackerPush, TrackerHeartbeatInterval, TrackerVersion, TrackerState, TrackerFrameRate,
		TrackerIsCalibrated, TrackerIsCalibrating, TrackerCalibrationResult,
		TrackerScreenIndex, TrackerScreenResolutionW, TrackerScreenResolutionH,
		TrackerScreenPhysicalWidth, TrackerScreenPhysicalHeight,
	}
	CalibrationStateKeys = []string{TrackerIsCalibrated, TrackerIsCalibrating, TrackerCalibrationResult}
	ScreenStateKeys      = []string{
		TrackerScreenIndex, TrackerScreenResolutionW, TrackerScreenResolutionH,
		TrackerScreenPhysicalWidth, TrackerScreenPhysicalHeight,
	}
	TrackerStateKeys = []string{TrackerState, TrackerFrameRate}
)
