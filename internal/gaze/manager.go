package gaze

import (
	"context"
	"sync"
	"time"

	"github.com/danmuck/gazectl/internal/logging"
	"github.com/danmuck/gazectl/internal/observability"
	"github.com/danmuck/gazectl/internal/protocol"
	"github.com/danmuck/gazectl/internal/protocol/session"
	"github.com/danmuck/gazectl/internal/transport"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Transport is the tracker server connection the Manager drives.
// transport.Client is the production implementation.
type Transport interface {
	Connect(host string, port int, timeout time.Duration) bool
	Close()
	IsConnected() bool

	RequestTracker(version int) *session.Call
	RequestAllStates() *session.Call
	RequestCalibrationStates() *session.Call
	RequestScreenStates() *session.Call
	RequestTrackerState() *session.Call
	RequestScreenSwitch(index, resW, resH int, physW, physH float64) *session.Call
	RequestCalibrationStart(pointCount int) *session.Call
	RequestCalibrationPointStart(x, y int) *session.Call
	RequestCalibrationPointEnd() *session.Call
	RequestCalibrationAbort() *session.Call
	RequestCalibrationClear() *session.Call
}

// TransportFactory builds the transport, wiring replies and disconnects back
// into the Manager.
type TransportFactory func(handler transport.Handler) Transport

// ClientFactory returns a TransportFactory backed by transport.Client.
func ClientFactory(cfg transport.Config) TransportFactory {
	return func(handler transport.Handler) Transport {
		return transport.NewClient(cfg, handler)
	}
}

// Options are the activation parameters.
type Options struct {
	Version APIVersion
	Host    string
	Port    int
	Timeout time.Duration
	Retries int
}

func DefaultOptions() Options {
	cfg := session.DefaultConfig()
	return Options{
		Version: APIVersion1,
		Host:    session.DefaultHost,
		Port:    session.DefaultPort,
		Timeout: cfg.ConnectTimeout,
		Retries: cfg.Retries,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Version == APIVersionUndefined {
		o.Version = d.Version
	}
	if o.Host == "" {
		o.Host = d.Host
	}
	if o.Port <= 0 {
		o.Port = d.Port
	}
	if o.Timeout <= 0 {
		o.Timeout = d.Timeout
	}
	if o.Retries <= 0 {
		o.Retries = d.Retries
	}
	return o
}

// Manager owns one tracker session: activation, cached state, calibration
// and listener delivery.
type Manager struct {
	initMu    sync.Mutex
	cfg       session.Config
	transport Transport
	state     *State
	cal       *calibration
	notify    *notifier
	replies   sync.WaitGroup

	log  zerolog.Logger
	dlog zerolog.Logger

	gazeListeners              *Registry[GazeListener]
	calibrationResultListeners *Registry[CalibrationResultListener]
	calibrationStateListeners  *Registry[CalibrationStateListener]
	trackerListeners           *Registry[TrackerStateListener]
	screenListeners            *Registry[ScreenStateListener]
	connectionListeners        *Registry[ConnectionStateListener]
}

func NewManager(cfg session.Config, factory TransportFactory) *Manager {
	m := &Manager{
		cfg:                        cfg.WithDefaults(),
		state:                      newState(),
		log:                        logging.Component("gaze.Manager"),
		dlog:                       logging.Component("gaze.dispatch"),
		gazeListeners:              NewRegistry[GazeListener]("gaze"),
		calibrationResultListeners: NewRegistry[CalibrationResultListener]("calibration_result"),
		calibrationStateListeners:  NewRegistry[CalibrationStateListener]("calibration_state"),
		trackerListeners:           NewRegistry[TrackerStateListener]("tracker_state"),
		screenListeners:            NewRegistry[ScreenStateListener]("screen_state"),
		connectionListeners:        NewRegistry[ConnectionStateListener]("connection_state"),
	}
	m.notify = newNotifier(m.log)
	m.cal = &calibration{
		state:           m.state,
		notify:          m.notify,
		stateListeners:  m.calibrationStateListeners,
		resultListeners: m.calibrationResultListeners,
		log:             m.dlog,
	}
	m.transport = factory(m)
	return m
}

// Activate connects to the tracker server and loads the initial state. The
// timeout is split evenly over retries attempts. Returns true immediately
// when already activated.
func (m *Manager) Activate(ctx context.Context, opts Options) bool {
	if ctx == nil {
		ctx = context.Background()
	}
	m.initMu.Lock()
	defer m.initMu.Unlock()

	if m.IsActivated() {
		return true
	}
	opts = opts.withDefaults()
	slice := session.RetryDelay(opts.Timeout, opts.Retries)
	log := m.log.With().
		Str("activation", uuid.NewString()).
		Str("host", opts.Host).
		Int("port", opts.Port).
		Logger()
	log.Debug().Dur("retry_delay", slice).Int("retries", opts.Retries).Msg("activating")

	for attempt := 1; attempt <= opts.Retries; attempt++ {
		started := time.Now()
		ok := m.initialize(ctx, opts, slice)
		observability.RecordActivationAttempt(ok)
		if ok {
			log.Info().Int("attempt", attempt).Msg("activated")
			m.notifyConnection(true)
			return true
		}
		m.transport.Close()
		log.Debug().Int("attempt", attempt).Msg("activation attempt failed")

		if !sleepCtx(ctx, session.RemainingDelay(slice, time.Since(started))) {
			log.Warn().Err(ctx.Err()).Int("attempt", attempt).Msg("activation cancelled")
			break
		}
	}
	m.transport.Close()
	m.state.setActive(false)
	log.Error().Msg("activation failed, is the tracker server running?")
	return false
}

// ActivateAsync runs Activate on its own goroutine.
func (m *Manager) ActivateAsync(ctx context.Context, opts Options) <-chan bool {
	out := make(chan bool, 1)
	go func() {
		out <- m.Activate(ctx, opts)
	}()
	return out
}

func (m *Manager) initialize(ctx context.Context, opts Options, slice time.Duration) bool {
	if !m.transport.Connect(opts.Host, opts.Port, slice) {
		return false
	}
	m.transport.RequestTracker(int(opts.Version))
	call := m.transport.RequestAllStates()
	if !call.Wait(ctx, slice) || !call.OK() {
		return false
	}
	m.state.setActive(true)
	return true
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// Deactivate clears every listener registry, closes the transport and
// resets the cached state. Safe to call repeatedly.
func (m *Manager) Deactivate() {
	m.initMu.Lock()
	defer m.initMu.Unlock()

	m.gazeListeners.Clear()
	m.calibrationResultListeners.Clear()
	m.calibrationStateListeners.Clear()
	m.trackerListeners.Clear()
	m.screenListeners.Clear()
	m.connectionListeners.Clear()

	m.transport.Close()
	// No reply can arrive once the transport is closed; drain the ones in
	// flight so none of them writes back over the reset.
	m.replies.Wait()
	m.state.reset()
}

// Close deactivates and waits until in-flight replies and listener
// deliveries have returned.
func (m *Manager) Close() {
	m.Deactivate()
	m.replies.Wait()
	m.notify.wait()
}

func (m *Manager) IsActivated() bool {
	return m.state.Active() && m.transport.IsConnected()
}

// State exposes the cached session state.
func (m *Manager) State() *State { return m.state }

func (m *Manager) TrackerState() TrackerState { return m.state.TrackerState() }
func (m *Manager) FrameRate() FrameRate       { return m.state.FrameRate() }
func (m *Manager) APIVersion() APIVersion     { return m.state.APIVersion() }
func (m *Manager) Screen() Screen             { return m.state.Screen() }
func (m *Manager) IsCalibrating() bool        { return m.state.IsCalibrating() }
func (m *Manager) IsCalibrated() bool         { return m.state.IsCalibrated() }

func (m *Manager) LastCalibrationResult() *protocol.CalibrationResult {
	return m.state.LastCalibrationResult()
}

func (m *Manager) LatestGaze() (protocol.GazeData, bool) { return m.state.LatestGaze() }

// SwitchScreen asks the server to use another screen and reports whether the
// cached geometry matches the request once the server has answered.
func (m *Manager) SwitchScreen(ctx context.Context, screen Screen) bool {
	if !m.IsActivated() {
		m.log.Warn().Msg("switch screen: not activated")
		return false
	}
	deadline := time.Now().Add(m.cfg.RequestTimeout)
	call := m.transport.RequestScreenSwitch(screen.Index, screen.ResolutionWidth, screen.ResolutionHeight,
		screen.PhysicalWidth, screen.PhysicalHeight)
	if call.Wait(ctx, m.cfg.RequestTimeout) && call.OK() {
		// The set reply carries no values; fetch the geometry the server settled on.
		m.transport.RequestScreenStates().Wait(ctx, time.Until(deadline))
	}
	return m.state.Screen() == screen
}

func (m *Manager) SwitchScreenAsync(ctx context.Context, screen Screen) <-chan bool {
	out := make(chan bool, 1)
	go func() {
		out <- m.SwitchScreen(ctx, screen)
	}()
	return out
}

// StartCalibration opens a calibration run of pointCount points and reports
// whether the server entered calibration. handler may be nil.
func (m *Manager) StartCalibration(ctx context.Context, pointCount int, handler CalibrationProcessHandler) bool {
	if !m.IsActivated() {
		m.log.Warn().Msg("start calibration: not activated")
		return false
	}
	if !m.cal.begin(pointCount, handler) {
		m.log.Warn().Msg("calibration already running, abort it before starting a new one")
		return false
	}
	call := m.transport.RequestCalibrationStart(pointCount)
	if !call.Wait(ctx, m.cfg.RequestTimeout) || !call.OK() {
		m.cal.rejected(protocol.RequestStart)
	}
	return m.state.IsCalibrating()
}

func (m *Manager) StartCalibrationAsync(ctx context.Context, pointCount int, handler CalibrationProcessHandler) <-chan bool {
	out := make(chan bool, 1)
	go func() {
		out <- m.StartCalibration(ctx, pointCount, handler)
	}()
	return out
}

// CalibrationPointStart tells the server the user is looking at (x, y).
func (m *Manager) CalibrationPointStart(x, y int) bool {
	if !m.calibrationActive("calibration point start") {
		return false
	}
	return m.transport.RequestCalibrationPointStart(x, y) != nil
}

// CalibrationPointEnd ends sampling of the current point.
func (m *Manager) CalibrationPointEnd() bool {
	if !m.calibrationActive("calibration point end") {
		return false
	}
	return m.transport.RequestCalibrationPointEnd() != nil
}

func (m *Manager) calibrationActive(op string) bool {
	if !m.IsActivated() {
		m.log.Warn().Str("op", op).Msg("not activated")
		return false
	}
	if !m.state.IsCalibrating() {
		m.log.Warn().Str("op", op).Msg("calibration not started")
		return false
	}
	return true
}

// AbortCalibration cancels the running calibration and reports whether the
// session left calibration.
func (m *Manager) AbortCalibration(ctx context.Context) bool {
	if !m.calibrationActive("calibration abort") {
		return false
	}
	m.cal.markPhase(PhaseAborting)
	call := m.transport.RequestCalibrationAbort()
	if !call.Wait(ctx, m.cfg.RequestTimeout) || !call.OK() {
		m.cal.rejected(protocol.RequestAbort)
	}
	return !m.state.IsCalibrating()
}

func (m *Manager) AbortCalibrationAsync(ctx context.Context) <-chan bool {
	out := make(chan bool, 1)
	go func() {
		out <- m.AbortCalibration(ctx)
	}()
	return out
}

// ClearCalibration drops the server's calibration. The outcome arrives
// through calibration state listeners.
func (m *Manager) ClearCalibration() bool {
	if !m.IsActivated() {
		m.log.Warn().Msg("clear calibration: not activated")
		return false
	}
	m.cal.markPhase(PhaseClearing)
	call := m.transport.RequestCalibrationClear()
	if call == nil {
		m.cal.rejected(protocol.RequestClear)
		return false
	}
	return true
}

func (m *Manager) GazeListeners() *Registry[GazeListener] { return m.gazeListeners }

func (m *Manager) CalibrationResultListeners() *Registry[CalibrationResultListener] {
	return m.calibrationResultListeners
}

func (m *Manager) CalibrationStateListeners() *Registry[CalibrationStateListener] {
	return m.calibrationStateListeners
}

func (m *Manager) TrackerStateListeners() *Registry[TrackerStateListener] { return m.trackerListeners }
func (m *Manager) ScreenStateListeners() *Registry[ScreenStateListener]   { return m.screenListeners }

func (m *Manager) ConnectionStateListeners() *Registry[ConnectionStateListener] {
	return m.connectionListeners
}
