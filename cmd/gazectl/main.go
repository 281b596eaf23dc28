package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/danmuck/gazectl/internal/gaze"
	"github.com/danmuck/gazectl/internal/logging"
	"github.com/danmuck/gazectl/internal/protocol"
	"github.com/danmuck/gazectl/internal/server"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
)

var errActivation = errors.New("could not activate, is the tracker server running?")

func main() {
	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "gazectl: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	cfg, err := parseArgs(args)
	if err != nil {
		return err
	}
	logging.ConfigureRuntime()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mgr := gaze.NewManager(cfg.Transport.Session, gaze.ClientFactory(cfg.Transport))
	defer mgr.Close()

	events := newEventLog(logging.Component("gazectl"))
	events.subscribe(mgr)

	log.Info().
		Str("host", cfg.Options.Host).
		Int("port", cfg.Options.Port).
		Str("transport", string(cfg.Transport.Kind)).
		Msg("connecting to tracker server")
	if !mgr.Activate(ctx, cfg.Options) {
		return errActivation
	}

	if cfg.Admin.Addr != "" {
		admin := server.New(cfg.Admin, mgr)
		go func() {
			if err := admin.Run(ctx); err != nil {
				log.Error().Err(err).Msg("admin server stopped")
			}
		}()
	}

	if cfg.CalibrationPoints > 0 {
		if err := calibrate(ctx, mgr, events, cfg); err != nil {
			log.Warn().Err(err).Msg("calibration did not complete")
		}
	}

	<-ctx.Done()
	log.Info().Msg("shutting down")
	return nil
}

// eventLog logs every session event. It also serves as the calibration
// process handler and forwards results to calibrate.
type eventLog struct {
	log     zerolog.Logger
	gaze    zerolog.Logger
	results chan *protocol.CalibrationResult
}

func newEventLog(l zerolog.Logger) *eventLog {
	return &eventLog{
		log:     l,
		gaze:    l.Sample(&zerolog.BasicSampler{N: 30}),
		results: make(chan *protocol.CalibrationResult, 1),
	}
}

func (e *eventLog) subscribe(mgr *gaze.Manager) {
	mgr.GazeListeners().Add(e)
	mgr.CalibrationResultListeners().Add(e)
	mgr.CalibrationStateListeners().Add(e)
	mgr.TrackerStateListeners().Add(e)
	mgr.ScreenStateListeners().Add(e)
	mgr.ConnectionStateListeners().Add(e)
}

func (e *eventLog) OnGazeUpdate(g protocol.GazeData) {
	e.gaze.Info().
		Int64("time", g.TimeStamp).
		Bool("fix", g.IsFixated).
		Float64("x", g.SmoothedCoordinates.X).
		Float64("y", g.SmoothedCoordinates.Y).
		Bool("tracking", g.HasState(protocol.GazeStateTrackingGaze)).
		Msg("gaze")
}

func (e *eventLog) OnCalibrationChanged(isCalibrated bool, result *protocol.CalibrationResult) {
	ev := e.log.Info().Bool("calibrated", isCalibrated)
	if result != nil {
		ev = ev.Float64("deg", result.AverageErrorDegree).Int("points", len(result.Points))
	}
	ev.Msg("calibration result changed")
}

func (e *eventLog) OnCalibrationStateChanged(isCalibrating, isCalibrated bool) {
	e.log.Info().Bool("calibrating", isCalibrating).Bool("calibrated", isCalibrated).Msg("calibration state")
}

func (e *eventLog) OnTrackerStateChanged(state gaze.TrackerState) {
	e.log.Info().Stringer("state", state).Msg("tracker state")
}

func (e *eventLog) OnScreenStatesChanged(s gaze.Screen) {
	e.log.Info().
		Int("index", s.Index).
		Int("width", s.ResolutionWidth).
		Int("height", s.ResolutionHeight).
		Float64("physical_width", s.PhysicalWidth).
		Float64("physical_height", s.PhysicalHeight).
		Msg("screen")
}

func (e *eventLog) OnConnectionStateChanged(connected bool) {
	if connected {
		e.log.Info().Msg("tracker server connected")
		return
	}
	e.log.Warn().Msg("tracker server disconnected")
}

func (e *eventLog) OnCalibrationStarted() {
	e.log.Info().Msg("calibration started")
}

func (e *eventLog) OnCalibrationProgress(progress float64) {
	e.log.Info().Float64("progress", progress).Msg("calibration point sampled")
}

func (e *eventLog) OnCalibrationProcessing() {
	e.log.Info().Msg("calibration processing")
}

func (e *eventLog) OnCalibrationResult(result *protocol.CalibrationResult) {
	select {
	case e.results <- result:
	default:
	}
}

type point struct{ X, Y int }

// gridPoints lays n targets row by row on a grid of at most 3x3, inset from
// the screen edges by a tenth of each dimension.
func gridPoints(n int, screen gaze.Screen) []point {
	n = min(max(n, 0), maxGridPoints)
	if n == 0 {
		return nil
	}
	cols := min(n, 3)
	rows := (n + cols - 1) / cols
	w, h := screen.ResolutionWidth, screen.ResolutionHeight
	marginX, marginY := w/10, h/10

	pos := func(i, count, size, margin int) int {
		if count == 1 {
			return size / 2
		}
		return margin + i*(size-2*margin)/(count-1)
	}

	out := make([]point, 0, n)
	for i := 0; i < n; i++ {
		r, c := i/cols, i%cols
		out = append(out, point{X: pos(c, cols, w, marginX), Y: pos(r, rows, h, marginY)})
	}
	return out
}

// calibrate runs an unattended calibration. Each target is held for the
// configured point duration; nobody needs to look at it for the protocol to
// complete, only for the result to be useful.
func calibrate(ctx context.Context, mgr *gaze.Manager, events *eventLog, cfg appConfig) error {
	screen := mgr.Screen()
	if screen.ResolutionWidth <= 0 || screen.ResolutionHeight <= 0 {
		return fmt.Errorf("calibrate: screen geometry unknown: %+v", screen)
	}
	points := gridPoints(cfg.CalibrationPoints, screen)
	if !mgr.StartCalibration(ctx, len(points), events) {
		return errors.New("calibrate: server refused to start")
	}

	for _, p := range points {
		if !mgr.CalibrationPointStart(p.X, p.Y) {
			return errors.New("calibrate: point start refused")
		}
		select {
		case <-ctx.Done():
			mgr.AbortCalibration(context.Background())
			return ctx.Err()
		case <-time.After(cfg.PointDuration):
		}
		if !mgr.CalibrationPointEnd() {
			return errors.New("calibrate: point end refused")
		}
	}

	wait := cfg.Transport.Session.WithDefaults().RequestTimeout
	select {
	case res := <-events.results:
		log.Info().
			Bool("passed", res.Result).
			Float64("deg", res.AverageErrorDegree).
			Int("resample", res.ResampleCount()).
			Msg("calibration finished")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(wait):
		mgr.AbortCalibration(context.Background())
		return fmt.Errorf("calibrate: no result within %s", wait)
	}
}
