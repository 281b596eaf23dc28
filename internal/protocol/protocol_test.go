package protocol

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/gazectl/internal/testutil/testlog"
)

func TestTrackerValuesAbsentFieldsStayNil(t *testing.T) {
	testlog.Start(t)

	resp, err := DecodeResponse([]byte(`{"category":"tracker","request":"get","statuscode":200,"values":{"trackerstate":1,"iscalibrated":false}}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	v, err := resp.TrackerValues()
	if err != nil {
		t.Fatalf("values: %v", err)
	}
	if v.TrackerState == nil || *v.TrackerState != 1 {
		t.Fatalf("unexpected tracker state: %v", v.TrackerState)
	}
	if v.IsCalibrated == nil || *v.IsCalibrated {
		t.Fatalf("expected present false iscalibrated")
	}
	if v.IsCalibrating != nil || v.ScreenIndex != nil || v.Frame != nil || v.CalibrationResult != nil {
		t.Fatalf("absent fields decoded as present: %+v", v)
	}
	if resp.ID != nil {
		t.Fatalf("unexpected id: %v", *resp.ID)
	}
}

func TestReadResponseLines(t *testing.T) {
	testlog.Start(t)

	in := `{"category":"calibration","request":"start","statuscode":200,"id":7}` + "\n" +
		`{"category":"","request":"get","statuscode":801,"values":{"statusmessage":"screen changed"}}` + "\n"
	r := bufio.NewReader(strings.NewReader(in))

	first, err := ReadResponse(r, 0)
	if err != nil {
		t.Fatalf("read first: %v", err)
	}
	if first.ID == nil || *first.ID != 7 || !first.OK() {
		t.Fatalf("unexpected first: %+v", first)
	}
	second, err := ReadResponse(r, 0)
	if err != nil {
		t.Fatalf("read second: %v", err)
	}
	if second.Category != CategoryError || second.StatusCode != StatusScreenUpdate {
		t.Fatalf("unexpected second: %+v", second)
	}
	if msg := second.ErrorValues().StatusMessage; msg != "screen changed" {
		t.Fatalf("unexpected status message: %q", msg)
	}
}

func TestReadResponseTooLarge(t *testing.T) {
	testlog.Start(t)

	line := `{"category":"tracker","values":"` + strings.Repeat("x", 64) + `"}` + "\n"
	_, err := ReadResponse(bufio.NewReaderSize(strings.NewReader(line), 16), 32)
	if !errors.Is(err, ErrMessageTooLarge) {
		t.Fatalf("expected ErrMessageTooLarge, got %v", err)
	}
}

func TestReadResponseBadLineKeepsFraming(t *testing.T) {
	testlog.Start(t)

	r := bufio.NewReader(strings.NewReader("{not json}\n" + `{"category":"heartbeat","statuscode":200}` + "\n"))
	if _, err := ReadResponse(r, 0); !errors.Is(err, ErrDecode) {
		t.Fatalf("expected ErrDecode, got %v", err)
	}
	resp, err := ReadResponse(r, 0)
	if err != nil {
		t.Fatalf("read after bad line: %v", err)
	}
	if resp.Category != CategoryHeartbeat || !resp.OK() {
		t.Fatalf("unexpected reply: %+v", resp)
	}
}

func TestWriteMessageRequestShapes(t *testing.T) {
	testlog.Start(t)

	var buf bytes.Buffer
	req := CalibrationStart(9)
	req.ID = 3
	if err := WriteMessage(&buf, req); err != nil {
		t.Fatalf("write: %v", err)
	}
	if !strings.HasSuffix(buf.String(), "\n") {
		t.Fatalf("expected newline terminated line")
	}
	var raw map[string]any
	if err := json.Unmarshal(buf.Bytes(), &raw); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if raw[KeyCategory] != CategoryCalibration || raw[KeyRequest] != RequestStart || raw[KeyID] != float64(3) {
		t.Fatalf("unexpected envelope: %v", raw)
	}
	values := raw[KeyValues].(map[string]any)
	if values[CalibrationPointCount] != float64(9) {
		t.Fatalf("unexpected values: %v", values)
	}

	payload, err := Marshal(CalibrationPointEnd())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if strings.Contains(string(payload), KeyValues) || strings.Contains(string(payload), `"id"`) {
		t.Fatalf("expected values and id omitted: %s", payload)
	}

	payload, err = Marshal(TrackerSetScreen(1, 1920, 1080, 0.5, 0.3))
	if err != nil {
		t.Fatalf("marshal screen: %v", err)
	}
	if !strings.Contains(string(payload), `"screenresw":1920`) || strings.Contains(string(payload), TrackerFrame) {
		t.Fatalf("unexpected screen set: %s", payload)
	}
}

func TestCorrectTimestamp(t *testing.T) {
	testlog.Start(t)

	for _, raw := range []string{"2020-01-01 00:00:00.000", "2020-01-01T00:00:00.000"} {
		g := GazeData{TimeStampString: raw, TimeStamp: 42}
		if err := g.CorrectTimestamp(); err != nil {
			t.Fatalf("correct %q: %v", raw, err)
		}
		want := time.Date(2020, 1, 1, 0, 0, 0, 0, time.Local).UnixMilli()
		if g.TimeStamp != want {
			t.Fatalf("timestamp for %q got=%d want=%d", raw, g.TimeStamp, want)
		}
	}

	g := GazeData{TimeStampString: "yesterday", TimeStamp: 42}
	if err := g.CorrectTimestamp(); !errors.Is(err, ErrInvalidTimestamp) {
		t.Fatalf("expected ErrInvalidTimestamp, got %v", err)
	}
	if g.TimeStamp != 42 {
		t.Fatalf("timestamp overwritten on failure: %d", g.TimeStamp)
	}
}

func TestCalibrationResultEqualAndResample(t *testing.T) {
	testlog.Start(t)

	a := &CalibrationResult{
		Result: true,
		Points: []CalibrationPoint{
			{State: PointStateOK, Coordinates: Point2D{X: 10, Y: 10}},
			{State: PointStateResample},
			{State: PointStateNoData},
		},
	}
	b := a.Clone()
	if !a.Equal(b) {
		t.Fatalf("expected clone equal")
	}
	b.Points[0].Accuracy.Average = 0.5
	if a.Equal(b) {
		t.Fatalf("expected mutated clone to differ")
	}
	if a.Points[0].Accuracy.Average != 0 {
		t.Fatalf("clone shares points slice")
	}
	if got := a.ResampleCount(); got != 2 {
		t.Fatalf("resample count got=%d", got)
	}
	var nilResult *CalibrationResult
	if !nilResult.Equal(nil) || nilResult.Equal(a) {
		t.Fatalf("unexpected nil equality")
	}
}
