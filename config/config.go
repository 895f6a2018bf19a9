// Package config loads the engine configuration from YAML.
package config

//go:generate errtrace -w .

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"braces.dev/errtrace"
	"gopkg.in/yaml.v3"

	"github.com/ghettovoice/sipcore/digest"
	"github.com/ghettovoice/sipcore/internal/errorutil"
	"github.com/ghettovoice/sipcore/internal/util"
	"github.com/ghettovoice/sipcore/log"
	"github.com/ghettovoice/sipcore/sip"
	"github.com/ghettovoice/sipcore/uri"
)

// ErrInvalidConfig is returned when the configuration fails validation.
const ErrInvalidConfig errorutil.Error = "invalid config"

// Config is the YAML representation of [sip.EngineOptions].
type Config struct {
	URI           string      `yaml:"uri"`
	DisplayName   string      `yaml:"display_name"`
	Contact       string      `yaml:"contact"`
	ViaHost       string      `yaml:"via_host"`
	ViaTransport  string      `yaml:"via_transport"`
	UserAgent     string      `yaml:"user_agent"`
	CallIDPrefix  string      `yaml:"call_id_prefix"`
	SessionTimers bool        `yaml:"session_timers"`
	Auth          Credentials `yaml:"auth"`
	Timings       Timings     `yaml:"timings"`
	LogLevel      string      `yaml:"log_level"`
}

// Credentials are the digest credentials of the user agent.
type Credentials struct {
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Realm    string `yaml:"realm"`
	HA1      string `yaml:"ha1"`
	JWT      string `yaml:"jwt"`
}

// Timings are the base SIP timer values, zero values fall back to RFC 3261 defaults.
type Timings struct {
	T1              time.Duration `yaml:"t1"`
	T2              time.Duration `yaml:"t2"`
	T4              time.Duration `yaml:"t4"`
	TimeD           time.Duration `yaml:"time_d"`
	TimeProvisional time.Duration `yaml:"time_provisional"`
}

// Load decodes and validates the configuration.
func Load(r io.Reader) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, errtrace.Wrap(errorutil.NewWrapperError(ErrInvalidConfig, err))
	}
	if err := cfg.Validate(); err != nil {
		return nil, errtrace.Wrap(err)
	}
	return &cfg, nil
}

// LoadFile loads the configuration from a file.
func LoadFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errtrace.Wrap(err)
	}
	defer f.Close()
	return errtrace.Wrap2(Load(f))
}

// Validate checks the configuration values.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.URI) == "" {
		errs = append(errs, errorutil.NewWrapperError(ErrInvalidConfig, "uri is required"))
	} else if u, err := uri.Parse(c.URI); err != nil {
		errs = append(errs, errorutil.NewWrapperError(ErrInvalidConfig, "uri: %v", err))
	} else if !u.IsSIP() {
		errs = append(errs, errorutil.NewWrapperError(ErrInvalidConfig, "uri %q is not a SIP URI", c.URI))
	}
	if c.Contact != "" {
		if _, err := uri.Parse(c.Contact); err != nil {
			errs = append(errs, errorutil.NewWrapperError(ErrInvalidConfig, "contact: %v", err))
		}
	}
	switch util.UCase(c.ViaTransport) {
	case "", "WS", "WSS", "UDP", "TCP", "TLS":
	default:
		errs = append(errs, errorutil.NewWrapperError(ErrInvalidConfig, "unsupported via transport %q", c.ViaTransport))
	}
	if c.Auth.HA1 != "" && c.Auth.Realm == "" {
		errs = append(errs, errorutil.NewWrapperError(ErrInvalidConfig, "auth.realm is required with auth.ha1"))
	}
	t := c.Timings
	if t.T1 < 0 || t.T2 < 0 || t.T4 < 0 || t.TimeD < 0 || t.TimeProvisional < 0 {
		errs = append(errs, errorutil.NewWrapperError(ErrInvalidConfig, "timings must not be negative"))
	}
	if t.T1 > 0 && t.T2 > 0 && t.T2 < t.T1 {
		errs = append(errs, errorutil.NewWrapperError(ErrInvalidConfig, "timings.t2 %v is less than timings.t1 %v", t.T2, t.T1))
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	return errtrace.Wrap(errorutil.JoinPrefix("config validation failed:", errs...))
}

func parseLevel(s string) (slog.Level, error) {
	if s == "" {
		return slog.LevelInfo, nil
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(s)); err != nil {
		return 0, errtrace.Wrap(errorutil.NewWrapperError(ErrInvalidConfig, "bad log level %q", s))
	}
	return lvl, nil
}

// EngineOptions converts the configuration to engine options.
// The engine logger is a console logger at the configured level.
func (c *Config) EngineOptions() (*sip.EngineOptions, error) {
	if err := c.Validate(); err != nil {
		return nil, errtrace.Wrap(err)
	}

	opts := &sip.EngineOptions{
		URI:           uri.MustParse(c.URI),
		DisplayName:   c.DisplayName,
		ViaHost:       c.ViaHost,
		ViaTransport:  c.ViaTransport,
		UserAgent:     c.UserAgent,
		CallIDPrefix:  c.CallIDPrefix,
		SessionTimers: c.SessionTimers,
		Credentials: digest.Credentials{
			Username: c.Auth.User,
			Password: c.Auth.Password,
			Realm:    c.Auth.Realm,
			HA1:      c.Auth.HA1,
		},
		AuthorizationJWT: c.Auth.JWT,
		Timings:          sip.NewTimings(c.Timings.T1, c.Timings.T2, c.Timings.T4, c.Timings.TimeD, c.Timings.TimeProvisional),
	}
	if c.Contact != "" {
		opts.ContactURI = uri.MustParse(c.Contact)
	}
	lvl, _ := parseLevel(c.LogLevel)
	opts.Logger = log.NewConsole(lvl)
	return opts, nil
}
