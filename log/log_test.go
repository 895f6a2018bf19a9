package log_test

import (
	"context"
	"log/slog"
	"testing"

	"github.com/ghettovoice/sipcore/log"
)

func TestSetDefault(t *testing.T) {
	if got := log.Default(); got != log.Def {
		t.Fatalf("log.Default() = %p, want log.Def", got)
	}

	log.SetDefault(log.Noop)
	t.Cleanup(func() { log.SetDefault(nil) })

	if got := log.Default(); got != log.Noop {
		t.Fatalf("log.Default() = %p, want log.Noop", got)
	}
	if log.Default().Enabled(context.Background(), slog.LevelError) {
		t.Fatal("noop logger is enabled for error level")
	}
}

func TestValues(t *testing.T) {
	t.Parallel()

	type point struct{ X, Y int }

	cases := []struct {
		name string
		val  slog.LogValuer
		want string
	}{
		{"fmt", log.FmtValue(point{1, 2}, false), "{X:1 Y:2}"},
		{"fmt go syntax", log.FmtValue(point{1, 2}, true), "log_test.point{X:1, Y:2}"},
		{"string", log.StringValue([]byte("abc")), "abc"},
		{"calc", log.CalcValue(func() any { return "lazy" }), "lazy"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()

			if got := c.val.LogValue().String(); got != c.want {
				t.Fatalf("LogValue() = %q, want %q", got, c.want)
			}
		})
	}
}
