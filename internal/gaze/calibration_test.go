package gaze

import (
	"context"
	"sync"
	"testing"

	"github.com/danmuck/gazectl/internal/protocol"
)

func calibrationResult(passed bool, ok, resample int) *protocol.CalibrationResult {
	res := &protocol.CalibrationResult{Result: passed, AverageErrorDegree: 0.4}
	for i := 0; i < ok; i++ {
		res.Points = append(res.Points, protocol.CalibrationPoint{
			State:       protocol.PointStateOK,
			Coordinates: protocol.Point2D{X: float64(i * 100), Y: 100},
		})
	}
	for i := 0; i < resample; i++ {
		res.Points = append(res.Points, protocol.CalibrationPoint{
			State:       protocol.PointStateResample,
			Coordinates: protocol.Point2D{X: float64(i * 100), Y: 300},
		})
	}
	return res
}

func pointEndPush(res *protocol.CalibrationResult) protocol.Response {
	return reply(protocol.CategoryCalibration, protocol.RequestPointEnd, protocol.StatusOK,
		protocol.PointEndValues{CalibrationResult: res})
}

// startedCalibration returns an activated manager with a calibration run of
// points already started.
func startedCalibration(t *testing.T, points int) (*Manager, *fakeTransport, *processRecorder, *recorder) {
	t.Helper()
	m, f := activatedManager(t)
	rec := &recorder{}
	rec.subscribe(m)
	proc := &processRecorder{}
	if !m.StartCalibration(context.Background(), points, proc) {
		t.Fatalf("calibration did not start")
	}
	settle(m)
	return m, f, proc, rec
}

func samplePoints(t *testing.T, m *Manager, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		if !m.CalibrationPointStart(100*i, 100) {
			t.Fatalf("point start %d refused", i)
		}
		if !m.CalibrationPointEnd() {
			t.Fatalf("point end %d refused", i)
		}
	}
	settle(m)
}

func TestStartCalibrationNotifies(t *testing.T) {
	m, _, proc, rec := startedCalibration(t, 9)

	if !m.IsCalibrating() || m.State().CalibrationPhase() != PhaseSampling {
		t.Fatalf("calibrating=%v phase=%s", m.IsCalibrating(), m.State().CalibrationPhase())
	}
	if proc.started != 1 {
		t.Fatalf("started=%d want 1", proc.started)
	}
	if len(rec.calStates) != 1 || rec.calStates[0] != [2]bool{true, false} {
		t.Fatalf("calibration state notifications=%v", rec.calStates)
	}
}

func TestStartWhileCalibratingKeepsCounter(t *testing.T) {
	m, f, _, _ := startedCalibration(t, 10)
	samplePoints(t, m, 3)

	if m.StartCalibration(context.Background(), 5, nil) {
		t.Fatalf("second start accepted")
	}
	if got := m.State().SampledPoints(); got != 3 {
		t.Fatalf("sampled=%d want 3", got)
	}
	if got := f.countSent(protocol.CategoryCalibration, protocol.RequestStart); got != 1 {
		t.Fatalf("start requests=%d want 1", got)
	}
}

func TestRejectedStartReturnsToIdle(t *testing.T) {
	m, f := activatedManager(t)
	f.setRespond(func(req protocol.Request) (protocol.Response, bool) {
		if req.Category == protocol.CategoryCalibration {
			return reply(req.Category, req.Request, 403, nil), true
		}
		return serverSim(req)
	})

	if m.StartCalibration(context.Background(), 9, nil) {
		t.Fatalf("rejected start reported success")
	}
	settle(m)
	if phase := m.State().CalibrationPhase(); phase != PhaseIdle {
		t.Fatalf("phase=%s want idle", phase)
	}
}

func TestProgressAndResampleAccounting(t *testing.T) {
	m, _, proc, rec := startedCalibration(t, 10)
	samplePoints(t, m, 10)

	if len(proc.progress) != 10 {
		t.Fatalf("progress events=%d want 10", len(proc.progress))
	}
	if proc.progress[0] != 0.1 || proc.progress[9] != 1 {
		t.Fatalf("progress=%v", proc.progress)
	}
	if proc.processing != 1 {
		t.Fatalf("processing=%d want 1", proc.processing)
	}
	if phase := m.State().CalibrationPhase(); phase != PhaseProcessingResult {
		t.Fatalf("phase=%s want processing_result", phase)
	}

	deliver(m, pointEndPush(calibrationResult(false, 8, 2)))

	if got := m.State().SampledPoints(); got != 8 {
		t.Fatalf("sampled=%d want 8", got)
	}
	if !m.IsCalibrating() || m.IsCalibrated() {
		t.Fatalf("calibrating=%v calibrated=%v", m.IsCalibrating(), m.IsCalibrated())
	}
	if phase := m.State().CalibrationPhase(); phase != PhaseNotCalibrated {
		t.Fatalf("phase=%s want not_calibrated", phase)
	}
	if len(proc.results) != 1 || len(rec.results) != 1 {
		t.Fatalf("handler results=%d listener results=%d", len(proc.results), len(rec.results))
	}
}

func TestIdenticalResultsNotifyOnce(t *testing.T) {
	m, _, proc, rec := startedCalibration(t, 9)
	samplePoints(t, m, 9)

	res := calibrationResult(true, 9, 0)
	deliver(m, pointEndPush(res))
	deliver(m, pointEndPush(res.Clone()))

	if len(rec.results) != 1 {
		t.Fatalf("result notifications=%d want 1", len(rec.results))
	}
	if len(proc.results) != 1 {
		t.Fatalf("handler results=%d want 1", len(proc.results))
	}
	if !m.IsCalibrated() || m.IsCalibrating() {
		t.Fatalf("calibrating=%v calibrated=%v", m.IsCalibrating(), m.IsCalibrated())
	}
	last := rec.calStates[len(rec.calStates)-1]
	if last != [2]bool{false, true} {
		t.Fatalf("last calibration state=%v", last)
	}
}

func TestResultListenersGetIndependentCopies(t *testing.T) {
	m, _, _, rec := startedCalibration(t, 9)
	other := &recorder{}
	m.CalibrationResultListeners().Add(other)

	deliver(m, pointEndPush(calibrationResult(true, 9, 0)))

	if len(rec.results) != 1 || len(other.results) != 1 {
		t.Fatalf("results=%d/%d", len(rec.results), len(other.results))
	}
	rec.results[0].Points[0].State = protocol.PointStateNoData
	if other.results[0].Points[0].State != protocol.PointStateOK {
		t.Fatalf("listeners share result storage")
	}
	if m.LastCalibrationResult().Points[0].State != protocol.PointStateOK {
		t.Fatalf("listener mutated cached result")
	}
}

func TestAbortCalibration(t *testing.T) {
	m, _, _, rec := startedCalibration(t, 9)
	samplePoints(t, m, 2)

	if !m.AbortCalibration(context.Background()) {
		t.Fatalf("abort reported still calibrating")
	}
	settle(m)
	if m.State().CalibrationPhase() != PhaseIdle || m.State().SampledPoints() != 0 {
		t.Fatalf("phase=%s sampled=%d", m.State().CalibrationPhase(), m.State().SampledPoints())
	}
	last := rec.calStates[len(rec.calStates)-1]
	if last != [2]bool{false, false} {
		t.Fatalf("last calibration state=%v", last)
	}
	if m.AbortCalibration(context.Background()) {
		t.Fatalf("abort outside calibration accepted")
	}
	if m.CalibrationPointEnd() {
		t.Fatalf("point end outside calibration accepted")
	}
}

func TestClearCalibration(t *testing.T) {
	m, _, _, rec := startedCalibration(t, 9)
	deliver(m, pointEndPush(calibrationResult(true, 9, 0)))
	notifications := len(rec.calStates)

	if !m.ClearCalibration() {
		t.Fatalf("clear refused")
	}
	settle(m)
	if m.IsCalibrated() || m.IsCalibrating() || m.LastCalibrationResult() != nil {
		t.Fatalf("clear left state behind")
	}
	if len(rec.calStates) != notifications+1 {
		t.Fatalf("clear notifications=%d want 1", len(rec.calStates)-notifications)
	}

	m.ClearCalibration()
	settle(m)
	if len(rec.calStates) != notifications+1 {
		t.Fatalf("second clear notified without change")
	}
}

func TestCalibrationHandlerPanicIsContained(t *testing.T) {
	m, _ := activatedManager(t)
	h := &panicHandler{}
	if !m.StartCalibration(context.Background(), 3, h) {
		t.Fatalf("calibration did not start")
	}
	samplePoints(t, m, 3)
	if got := m.State().SampledPoints(); got != 3 {
		t.Fatalf("sampled=%d want 3", got)
	}
}

type panicHandler struct {
	mu    sync.Mutex
	calls int
}

func (h *panicHandler) hit() {
	h.mu.Lock()
	h.calls++
	h.mu.Unlock()
	panic("handler exploded")
}

func (h *panicHandler) OnCalibrationStarted()                           { h.hit() }
func (h *panicHandler) OnCalibrationProgress(float64)                   { h.hit() }
func (h *panicHandler) OnCalibrationProcessing()                        { h.hit() }
func (h *panicHandler) OnCalibrationResult(*protocol.CalibrationResult) { h.hit() }
