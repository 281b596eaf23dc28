package gaze

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/danmuck/gazectl/internal/protocol"
	"github.com/danmuck/gazectl/internal/protocol/session"
	"github.com/danmuck/gazectl/internal/testutil/testlog"
	"github.com/danmuck/gazectl/internal/transport"
)

// fakeTransport answers requests in-process. Replies produced by respond are
// handed to the Manager before the request method returns.
type fakeTransport struct {
	mu        sync.Mutex
	handler   transport.Handler
	connected bool
	connects  int
	closes    int
	nextID    int
	requests  []protocol.Request
	connectFn func(attempt int) bool
	respond   func(req protocol.Request) (protocol.Response, bool)

	inConnect atomic.Int32
	overlap   atomic.Bool
}

func (f *fakeTransport) factory() TransportFactory {
	return func(h transport.Handler) Transport {
		f.handler = h
		return f
	}
}

func (f *fakeTransport) Connect(_ string, _ int, _ time.Duration) bool {
	if f.inConnect.Add(1) > 1 {
		f.overlap.Store(true)
	}
	defer f.inConnect.Add(-1)

	f.mu.Lock()
	f.connects++
	attempt, fn := f.connects, f.connectFn
	f.mu.Unlock()

	ok := fn == nil || fn(attempt)
	f.mu.Lock()
	f.connected = ok
	f.mu.Unlock()
	return ok
}

func (f *fakeTransport) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
	f.closes++
}

func (f *fakeTransport) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeTransport) setRespond(fn func(req protocol.Request) (protocol.Response, bool)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.respond = fn
}

func (f *fakeTransport) connectCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects
}

func (f *fakeTransport) sent() []protocol.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]protocol.Request(nil), f.requests...)
}

func (f *fakeTransport) countSent(category, request string) int {
	n := 0
	for _, req := range f.sent() {
		if req.Category == category && req.Request == request {
			n++
		}
	}
	return n
}

func (f *fakeTransport) send(req protocol.Request) *session.Call {
	f.mu.Lock()
	if !f.connected {
		f.mu.Unlock()
		return nil
	}
	f.nextID++
	req.ID = f.nextID
	f.requests = append(f.requests, req)
	respond, h := f.respond, f.handler
	f.mu.Unlock()

	call := session.NewCall(req.ID, req)
	if respond != nil {
		if resp, ok := respond(req); ok {
			id := req.ID
			resp.ID = &id
			h.HandleResponse(resp, call)
		}
	}
	return call
}

func (f *fakeTransport) RequestTracker(version int) *session.Call {
	return f.send(protocol.TrackerSetVersion(version))
}

func (f *fakeTransport) RequestAllStates() *session.Call {
	return f.send(protocol.TrackerGet(protocol.AllStateKeys...))
}

func (f *fakeTransport) RequestCalibrationStates() *session.Call {
	return f.send(protocol.TrackerGet(protocol.CalibrationStateKeys...))
}

func (f *fakeTransport) RequestScreenStates() *session.Call {
	return f.send(protocol.TrackerGet(protocol.ScreenStateKeys...))
}

func (f *fakeTransport) RequestTrackerState() *session.Call {
	return f.send(protocol.TrackerGet(protocol.TrackerStateKeys...))
}

func (f *fakeTransport) RequestScreenSwitch(index, resW, resH int, physW, physH float64) *session.Call {
	return f.send(protocol.TrackerSetScreen(index, resW, resH, physW, physH))
}

func (f *fakeTransport) RequestCalibrationStart(pointCount int) *session.Call {
	return f.send(protocol.CalibrationStart(pointCount))
}

func (f *fakeTransport) RequestCalibrationPointStart(x, y int) *session.Call {
	return f.send(protocol.CalibrationPointStart(x, y))
}

func (f *fakeTransport) RequestCalibrationPointEnd() *session.Call {
	return f.send(protocol.CalibrationPointEnd())
}

func (f *fakeTransport) RequestCalibrationAbort() *session.Call {
	return f.send(protocol.CalibrationAbort())
}

func (f *fakeTransport) RequestCalibrationClear() *session.Call {
	return f.send(protocol.CalibrationClear())
}

func reply(category, request string, status int, values any) protocol.Response {
	resp := protocol.Response{Category: category, Request: request, StatusCode: status}
	if values != nil {
		raw, err := json.Marshal(values)
		if err != nil {
			panic(err)
		}
		resp.Values = raw
	}
	return resp
}

func okReply(req protocol.Request, values any) protocol.Response {
	return reply(req.Category, req.Request, protocol.StatusOK, values)
}

func ptr[T any](v T) *T { return &v }

func snapshotValues() protocol.TrackerValues {
	return protocol.TrackerValues{
		Version:                ptr(1),
		TrackerState:           ptr(int(TrackerConnected)),
		FrameRate:              ptr(30),
		IsCalibrated:           ptr(false),
		IsCalibrating:          ptr(false),
		ScreenIndex:            ptr(0),
		ScreenResolutionWidth:  ptr(1920),
		ScreenResolutionHeight: ptr(1080),
		ScreenPhysicalWidth:    ptr(0.52),
		ScreenPhysicalHeight:   ptr(0.29),
	}
}

// serverSim answers like a tracker server: snapshots for tracker gets, plain
// OK for everything else.
func serverSim(req protocol.Request) (protocol.Response, bool) {
	if req.Category == protocol.CategoryTracker && req.Request == protocol.RequestGet {
		return okReply(req, snapshotValues()), true
	}
	return okReply(req, nil), true
}

func newTestManager(t *testing.T) (*Manager, *fakeTransport) {
	t.Helper()
	testlog.Start(t)
	f := &fakeTransport{respond: serverSim}
	m := NewManager(session.Config{RequestTimeout: time.Second}, f.factory())
	t.Cleanup(m.Close)
	return m, f
}

func activatedManager(t *testing.T) (*Manager, *fakeTransport) {
	t.Helper()
	m, f := newTestManager(t)
	if !m.Activate(context.Background(), Options{Timeout: time.Second, Retries: 1}) {
		t.Fatalf("activation failed")
	}
	settle(m)
	return m, f
}

// settle waits until every reply handed to m so far has been processed and
// its notifications delivered.
func settle(m *Manager) {
	m.replies.Wait()
	m.notify.wait()
}

// deliver runs one reply through the dispatcher and waits for its
// notifications.
func deliver(m *Manager, resp protocol.Response) {
	m.HandleResponse(resp, nil)
	settle(m)
}

type recorder struct {
	mu         sync.Mutex
	gaze       []protocol.GazeData
	calStates  [][2]bool
	results    []*protocol.CalibrationResult
	trackers   []TrackerState
	screens    []Screen
	connection []bool
}

func (r *recorder) OnGazeUpdate(g protocol.GazeData) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gaze = append(r.gaze, g)
}

func (r *recorder) OnCalibrationChanged(_ bool, result *protocol.CalibrationResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, result)
}

func (r *recorder) OnCalibrationStateChanged(isCalibrating, isCalibrated bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calStates = append(r.calStates, [2]bool{isCalibrating, isCalibrated})
}

func (r *recorder) OnTrackerStateChanged(state TrackerState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.trackers = append(r.trackers, state)
}

func (r *recorder) OnScreenStatesChanged(screen Screen) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.screens = append(r.screens, screen)
}

func (r *recorder) OnConnectionStateChanged(connected bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connection = append(r.connection, connected)
}

func (r *recorder) subscribe(m *Manager) {
	m.GazeListeners().Add(r)
	m.CalibrationResultListeners().Add(r)
	m.CalibrationStateListeners().Add(r)
	m.TrackerStateListeners().Add(r)
	m.ScreenStateListeners().Add(r)
	m.ConnectionStateListeners().Add(r)
}

type processRecorder struct {
	mu         sync.Mutex
	started    int
	progress   []float64
	processing int
	results    []*protocol.CalibrationResult
}

func (p *processRecorder) OnCalibrationStarted() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.started++
}

func (p *processRecorder) OnCalibrationProgress(progress float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.progress = append(p.progress, progress)
}

func (p *processRecorder) OnCalibrationProcessing() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.processing++
}

func (p *processRecorder) OnCalibrationResult(result *protocol.CalibrationResult) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.results = append(p.results, result)
}

type panicListener struct{}

func (*panicListener) OnGazeUpdate(protocol.GazeData) { panic("listener exploded") }
