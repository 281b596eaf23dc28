package protocol

import (
	"encoding/json"
	"io"
)

// DefaultMaxMessageSize bounds one line-delimited message.
const DefaultMaxMessageSize = 1 << 20

// Marshal encodes req as one newline-terminated JSON line.
func Marshal(req Request) ([]byte, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	return append(payload, '\n'), nil
}

// WriteMessage writes v as one newline-terminated JSON line.
func WriteMessage(w io.Writer, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	payload = append(payload, '\n')
	if _, err := w.Write(payload); err != nil {
		return err
	}
	return nil
}

func TrackerGet(keys ...string) Request {
	return Request{Category: CategoryTracker, Request: RequestGet, Values: keys}
}

func TrackerSet(values TrackerValues) Request {
	return Request{Category: CategoryTracker, Request: RequestSet, Values: values}
}

// TrackerSetVersion asks the server to speak the given API version.
func TrackerSetVersion(version int) Request {
	return TrackerSet(TrackerValues{Version: &version})
}

// TrackerSetScreen switches the active screen and its geometry.
func TrackerSetScreen(index, resW, resH int, physW, physH float64) Request {
	return TrackerSet(TrackerValues{
		ScreenIndex:            &index,
		ScreenResolutionWidth:  &resW,
		ScreenResolutionHeight: &resH,
		ScreenPhysicalWidth:    &physW,
		ScreenPhysicalHeight:   &physH,
	})
}

func CalibrationStart(pointCount int) Request {
	return Request{
		Category: CategoryCalibration,
		Request:  RequestStart,
		Values:   map[string]int{CalibrationPointCount: pointCount},
	}
}

func CalibrationPointStart(x, y int) Request {
	return Request{
		Category: CategoryCalibration,
		Request:  RequestPointStart,
		Values:   map[string]int{CalibrationX: x, CalibrationY: y},
	}
}

func CalibrationPointEnd() Request {
	return Request{Category: CategoryCalibration, Request: RequestPointEnd}
}

func CalibrationAbort() Request {
	return Request{Category: CategoryCalibration, Request: RequestAbort}
}

func CalibrationClear() Request {
	return Request{Category: CategoryCalibration, Request: RequestClear}
}
