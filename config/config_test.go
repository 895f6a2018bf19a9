package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ghettovoice/sipcore/config"
)

const sample = `
uri: sip:alice@example.com
display_name: Alice
contact: sip:alice@ua.invalid;transport=ws
via_host: ua.invalid
via_transport: wss
call_id_prefix: abcde
session_timers: true
auth:
  user: alice-auth
  password: secret
  jwt: token
timings:
  t1: 250ms
  t2: 2s
  time_d: 16s
log_level: debug
`

func TestLoad(t *testing.T) {
	t.Parallel()

	cfg, err := config.Load(strings.NewReader(sample))
	require.NoError(t, err)

	assert.Equal(t, "sip:alice@example.com", cfg.URI)
	assert.Equal(t, "Alice", cfg.DisplayName)
	assert.True(t, cfg.SessionTimers)
	assert.Equal(t, "alice-auth", cfg.Auth.User)
	assert.Equal(t, 250*time.Millisecond, cfg.Timings.T1)
	assert.Equal(t, 16*time.Second, cfg.Timings.TimeD)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoadFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "ua.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o600))

	cfg, err := config.LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "ua.invalid", cfg.ViaHost)

	_, err = config.LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestConfig_EngineOptions(t *testing.T) {
	t.Parallel()

	cfg, err := config.Load(strings.NewReader(sample))
	require.NoError(t, err)

	opts, err := cfg.EngineOptions()
	require.NoError(t, err)

	assert.Equal(t, "alice", opts.URI.User)
	assert.Equal(t, "ua.invalid", opts.ContactURI.Host)
	assert.Equal(t, "ua.invalid", opts.ViaHost)
	assert.Equal(t, "wss", opts.ViaTransport)
	assert.Equal(t, "abcde", opts.CallIDPrefix)
	assert.Equal(t, "alice-auth", opts.Credentials.Username)
	assert.Equal(t, "secret", opts.Credentials.Password)
	assert.Equal(t, "token", opts.AuthorizationJWT)
	assert.Equal(t, 250*time.Millisecond, opts.Timings.T1())
	assert.Equal(t, 2*time.Second, opts.Timings.T2())
	// unset base values keep the defaults
	assert.Equal(t, 5*time.Second, opts.Timings.T4())
	assert.Equal(t, 64*250*time.Millisecond, opts.Timings.TimeB())
	require.NotNil(t, opts.Logger)
}

func TestConfig_Validate(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		yaml string
		want string
	}{
		{"missing uri", "display_name: x", "uri is required"},
		{"tel uri", "uri: tel:+15551234", "not a SIP URI"},
		{"bad transport", "uri: sip:a@b\nvia_transport: sctp", "unsupported via transport"},
		{"ha1 without realm", "uri: sip:a@b\nauth:\n  ha1: abc", "auth.realm is required"},
		{"negative timing", "uri: sip:a@b\ntimings:\n  t1: -1s", "must not be negative"},
		{"t2 below t1", "uri: sip:a@b\ntimings:\n  t1: 2s\n  t2: 1s", "timings.t2"},
		{"bad log level", "uri: sip:a@b\nlog_level: loud", "bad log level"},
		{"unknown field", "uri: sip:a@b\nport: 5060", "port"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()

			_, err := config.Load(strings.NewReader(c.yaml))
			require.Error(t, err)
			assert.ErrorIs(t, err, config.ErrInvalidConfig)
			assert.Contains(t, err.Error(), c.want)
		})
	}
}
