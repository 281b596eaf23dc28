package protocol

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"
)

// Textual frame timestamp layouts. The first is what the server emits.
const (
	TimestampLayout    = "2006-01-02 15:04:05.000"
	TimestampLayoutISO = "2006-01-02T15:04:05.000"
)

// Gaze frame state bits.
const (
	GazeStateTrackingGaze     = 1
	GazeStateTrackingEyes     = 1 << 1
	GazeStateTrackingPresence = 1 << 2
	GazeStateTrackingFail     = 1 << 3
	GazeStateTrackingLost     = 1 << 4
)

// Calibration point sampling states.
const (
	PointStateNoData   = 0
	PointStateResample = 1
	PointStateOK       = 2
)

// Request is the client->server envelope.
type Request struct {
	Category string `json:"category"`
	Request  string `json:"request"`
	ID       int    `json:"id,omitempty"`
	Values   any    `json:"values,omitempty"`
}

// Response is the server->client envelope. Values stays raw until the
// category and request kind select its shape.
type Response struct {
	Category   string          `json:"category"`
	Request    string          `json:"request"`
	StatusCode int             `json:"statuscode"`
	ID         *int            `json:"id,omitempty"`
	Values     json.RawMessage `json:"values,omitempty"`
}

func (r Response) OK() bool {
	return r.StatusCode == StatusOK
}

func (r Response) String() string {
	return fmt.Sprintf("category=%q request=%q statuscode=%d", r.Category, r.Request, r.StatusCode)
}

// TrackerValues carries tracker get/set values. Every field is optional:
// nil means the key was absent.
type TrackerValues struct {
	Push                   *bool              `json:"push,omitempty"`
	HeartbeatInterval      *int               `json:"heartbeatinterval,omitempty"`
	Version                *int               `json:"version,omitempty"`
	TrackerState           *int               `json:"trackerstate,omitempty"`
	FrameRate              *int               `json:"framerate,omitempty"`
	IsCalibrated           *bool              `json:"iscalibrated,omitempty"`
	IsCalibrating          *bool              `json:"iscalibrating,omitempty"`
	CalibrationResult      *CalibrationResult `json:"calibresult,omitempty"`
	Frame                  *GazeData          `json:"frame,omitempty"`
	ScreenIndex            *int               `json:"screenindex,omitempty"`
	ScreenResolutionWidth  *int               `json:"screenresw,omitempty"`
	ScreenResolutionHeight *int               `json:"screenresh,omitempty"`
	ScreenPhysicalWidth    *float64           `json:"screenpsyw,omitempty"`
	ScreenPhysicalHeight   *float64           `json:"screenpsyh,omitempty"`
}

// PointEndValues is the payload of a calibration pointend reply. The result is
// only present once every point of the run has been sampled.
type PointEndValues struct {
	CalibrationResult *CalibrationResult `json:"calibresult,omitempty"`
}

// ErrorValues is the payload of an error envelope.
type ErrorValues struct {
	StatusMessage string `json:"statusmessage"`
}

type Point2D struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type Eye struct {
	Raw         Point2D `json:"raw"`
	Avg         Point2D `json:"avg"`
	PupilSize   float64 `json:"psize"`
	PupilCenter Point2D `json:"pcenter"`
}

// GazeData is one tracking frame.
type GazeData struct {
	TimeStampString     string  `json:"timestamp,omitempty"`
	TimeStamp           int64   `json:"time"`
	IsFixated           bool    `json:"fix"`
	State               int     `json:"state"`
	RawCoordinates      Point2D `json:"raw"`
	SmoothedCoordinates Point2D `json:"avg"`
	LeftEye             Eye     `json:"lefteye"`
	RightEye            Eye     `json:"righteye"`
}

// CorrectTimestamp re-derives TimeStamp (unix ms, local time) from the
// textual timestamp. The numeric field loses precision on the wire. On error
// TimeStamp is left untouched.
func (g *GazeData) CorrectTimestamp() error {
	raw := strings.TrimSpace(g.TimeStampString)
	if raw == "" {
		return nil
	}
	ts, err := ParseTimestamp(raw)
	if err != nil {
		return err
	}
	g.TimeStamp = ts.UnixMilli()
	return nil
}

func (g GazeData) HasState(bit int) bool {
	return g.State&bit != 0
}

// ParseTimestamp parses a frame timestamp in server local time.
func ParseTimestamp(raw string) (time.Time, error) {
	for _, layout := range []string{TimestampLayout, TimestampLayoutISO} {
		if ts, err := time.ParseInLocation(layout, raw, time.Local); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidTimestamp, raw)
}

type Accuracy struct {
	Average float64 `json:"ad"`
	Left    float64 `json:"adl"`
	Right   float64 `json:"adr"`
}

type MeanError struct {
	Average float64 `json:"mep"`
	Left    float64 `json:"mepl"`
	Right   float64 `json:"mepr"`
}

type StandardDeviation struct {
	Average float64 `json:"asd"`
	Left    float64 `json:"asdl"`
	Right   float64 `json:"asdr"`
}

// CalibrationPoint is the per-target outcome of a calibration run.
type CalibrationPoint struct {
	State               int               `json:"state"`
	Coordinates         Point2D           `json:"cp"`
	MeanEstimatedCoords Point2D           `json:"mecp"`
	Accuracy            Accuracy          `json:"acd"`
	MeanError           MeanError         `json:"mepix"`
	StandardDeviation   StandardDeviation `json:"asdp"`
}

// NeedsResample reports whether the point must be collected again.
func (p CalibrationPoint) NeedsResample() bool {
	return p.State == PointStateResample || p.State == PointStateNoData
}

// CalibrationResult is the outcome of a calibration run.
type CalibrationResult struct {
	Result                  bool               `json:"result"`
	AverageErrorDegree      float64            `json:"deg"`
	AverageErrorDegreeLeft  float64            `json:"degl"`
	AverageErrorDegreeRight float64            `json:"degr"`
	Points                  []CalibrationPoint `json:"calibpoints"`
}

// Equal compares two results by value. Two nil results are equal.
func (c *CalibrationResult) Equal(other *CalibrationResult) bool {
	if c == nil || other == nil {
		return c == other
	}
	return c.Result == other.Result &&
		c.AverageErrorDegree == other.AverageErrorDegree &&
		c.AverageErrorDegreeLeft == other.AverageErrorDegreeLeft &&
		c.AverageErrorDegreeRight == other.AverageErrorDegreeRight &&
		slices.Equal(c.Points, other.Points)
}

// ResampleCount returns how many points need to be collected again.
func (c *CalibrationResult) ResampleCount() int {
	if c == nil {
		return 0
	}
	n := 0
	for _, p := range c.Points {
		if p.NeedsResample() {
			n++
		}
	}
	return n
}

// Clone returns a deep copy so listeners never share the cached slice.
func (c *CalibrationResult) Clone() *CalibrationResult {
	if c == nil {
		return nil
	}
	out := *c
	out.Points = slices.Clone(c.Points)
	return &out
}
