package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/gazectl/internal/gaze"
	"github.com/danmuck/gazectl/internal/protocol/session"
	"github.com/danmuck/gazectl/internal/server"
	"github.com/danmuck/gazectl/internal/transport"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

var ErrInvalidConfig = errors.New("config: invalid value")

const maxGridPoints = 9

type fileConfig struct {
	Host              string   `toml:"host" yaml:"host"`
	Port              int      `toml:"port" yaml:"port"`
	Transport         string   `toml:"transport" yaml:"transport"`
	WSPath            string   `toml:"ws_path" yaml:"ws_path"`
	APIVersion        int      `toml:"api_version" yaml:"api_version"`
	Timeout           string   `toml:"timeout" yaml:"timeout"`
	Retries           int      `toml:"retries" yaml:"retries"`
	RequestTimeout    string   `toml:"request_timeout" yaml:"request_timeout"`
	CalibrationPoints int      `toml:"calibration_points" yaml:"calibration_points"`
	PointDuration     string   `toml:"point_duration" yaml:"point_duration"`
	AdminAddr         string   `toml:"admin_addr" yaml:"admin_addr"`
	AdminOrigins      []string `toml:"admin_origins" yaml:"admin_origins"`
}

type appConfig struct {
	Options           gaze.Options
	Transport         transport.Config
	CalibrationPoints int
	PointDuration     time.Duration
	Admin             server.Config
}

func defaultAppConfig() appConfig {
	return appConfig{
		Options:       gaze.DefaultOptions(),
		Transport:     transport.DefaultConfig(),
		PointDuration: 1500 * time.Millisecond,
	}
}

// loadConfig reads a TOML or YAML file, chosen by extension. Keys missing
// from the file keep their defaults.
func loadConfig(path string) (appConfig, error) {
	cfg := defaultAppConfig()

	var raw fileConfig
	defined, err := decodeFile(path, &raw)
	if err != nil {
		return appConfig{}, fmt.Errorf("load gazectl config: %w", err)
	}

	if defined("host") {
		cfg.Options.Host = strings.TrimSpace(raw.Host)
	}
	if defined("port") {
		cfg.Options.Port = raw.Port
	}
	if defined("transport") {
		kind, err := transport.ParseKind(raw.Transport)
		if err != nil {
			return appConfig{}, err
		}
		cfg.Transport.Kind = kind
	}
	if defined("ws_path") {
		cfg.Transport.WSPath = strings.TrimSpace(raw.WSPath)
	}
	if defined("api_version") {
		cfg.Options.Version = gaze.APIVersion(raw.APIVersion)
	}
	if defined("timeout") {
		d, err := parseDuration("timeout", raw.Timeout)
		if err != nil {
			return appConfig{}, err
		}
		cfg.Options.Timeout = d
	}
	if defined("retries") {
		cfg.Options.Retries = raw.Retries
	}
	if defined("request_timeout") {
		d, err := parseDuration("request_timeout", raw.RequestTimeout)
		if err != nil {
			return appConfig{}, err
		}
		cfg.Transport.Session.RequestTimeout = d
	}
	if defined("calibration_points") {
		cfg.CalibrationPoints = raw.CalibrationPoints
	}
	if defined("point_duration") {
		d, err := parseDuration("point_duration", raw.PointDuration)
		if err != nil {
			return appConfig{}, err
		}
		cfg.PointDuration = d
	}
	if defined("admin_addr") {
		cfg.Admin.Addr = strings.TrimSpace(raw.AdminAddr)
	}
	if defined("admin_origins") {
		cfg.Admin.AllowOrigins = raw.AdminOrigins
	}

	return cfg, cfg.validate()
}

func decodeFile(path string, raw *fileConfig) (func(string) bool, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		var keys map[string]yaml.Node
		if err := yaml.Unmarshal(data, &keys); err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, raw); err != nil {
			return nil, err
		}
		return func(key string) bool {
			_, ok := keys[key]
			return ok
		}, nil
	default:
		meta, err := toml.DecodeFile(path, raw)
		if err != nil {
			return nil, err
		}
		return func(key string) bool { return meta.IsDefined(key) }, nil
	}
}

func parseDuration(key, raw string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return d, nil
}

func (c appConfig) validate() error {
	if c.Options.Port < 0 || c.Options.Port > 65535 {
		return fmt.Errorf("%w: port %d", ErrInvalidConfig, c.Options.Port)
	}
	if c.Options.Retries < 0 {
		return fmt.Errorf("%w: retries %d", ErrInvalidConfig, c.Options.Retries)
	}
	if c.CalibrationPoints < 0 || c.CalibrationPoints > maxGridPoints {
		return fmt.Errorf("%w: calibration_points %d (0..%d)", ErrInvalidConfig, c.CalibrationPoints, maxGridPoints)
	}
	if c.CalibrationPoints > 0 && c.PointDuration <= 0 {
		return fmt.Errorf("%w: point_duration %s", ErrInvalidConfig, c.PointDuration)
	}
	return nil
}

// parseArgs loads the optional config file and applies flags on top.
func parseArgs(args []string) (appConfig, error) {
	fs := pflag.NewFlagSet("gazectl", pflag.ContinueOnError)
	configPath := fs.StringP("config", "c", "", "path to a .toml or .yaml config file")
	host := fs.String("host", session.DefaultHost, "tracker server host")
	port := fs.IntP("port", "p", session.DefaultPort, "tracker server port")
	kind := fs.String("transport", string(transport.KindTCP), "transport: tcp or websocket")
	wsPath := fs.String("ws-path", "/", "websocket endpoint path")
	version := fs.Int("api-version", int(gaze.APIVersion1), "tracker API version")
	timeout := fs.Duration("timeout", session.DefaultConfig().ConnectTimeout, "total activation timeout")
	retries := fs.Int("retries", session.DefaultConfig().Retries, "activation attempts within the timeout")
	requestTimeout := fs.Duration("request-timeout", session.DefaultConfig().RequestTimeout, "wait bound for synchronous operations")
	points := fs.Int("calibrate", 0, "run a headless calibration with this many points (0 disables)")
	pointDuration := fs.Duration("point-duration", 1500*time.Millisecond, "sampling time per calibration point")
	adminAddr := fs.String("admin-addr", "", "serve health, state and metrics on this address (empty disables)")

	if err := fs.Parse(args); err != nil {
		return appConfig{}, err
	}
	if rest := fs.Args(); len(rest) > 0 {
		return appConfig{}, fmt.Errorf("unexpected argument: %s", rest[0])
	}

	cfg := defaultAppConfig()
	if *configPath != "" {
		loaded, err := loadConfig(*configPath)
		if err != nil {
			return appConfig{}, err
		}
		cfg = loaded
	}

	if fs.Changed("host") {
		cfg.Options.Host = *host
	}
	if fs.Changed("port") {
		cfg.Options.Port = *port
	}
	if fs.Changed("transport") {
		k, err := transport.ParseKind(*kind)
		if err != nil {
			return appConfig{}, err
		}
		cfg.Transport.Kind = k
	}
	if fs.Changed("ws-path") {
		cfg.Transport.WSPath = *wsPath
	}
	if fs.Changed("api-version") {
		cfg.Options.Version = gaze.APIVersion(*version)
	}
	if fs.Changed("timeout") {
		cfg.Options.Timeout = *timeout
	}
	if fs.Changed("retries") {
		cfg.Options.Retries = *retries
	}
	if fs.Changed("request-timeout") {
		cfg.Transport.Session.RequestTimeout = *requestTimeout
	}
	if fs.Changed("calibrate") {
		cfg.CalibrationPoints = *points
	}
	if fs.Changed("point-duration") {
		cfg.PointDuration = *pointDuration
	}
	if fs.Changed("admin-addr") {
		cfg.Admin.Addr = *adminAddr
	}
	return cfg, cfg.validate()
}
