package errorutil_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/ghettovoice/sipcore/internal/errorutil"
)

const errBoom errorutil.Error = "boom"

func TestNewWrapperError(t *testing.T) {
	t.Parallel()

	if err := errorutil.NewWrapperError(errBoom); err != errBoom { //nolint:errorlint
		t.Fatalf("errorutil.NewWrapperError(sentinel) = %v, want %v", err, errBoom)
	}

	cause := errors.New("cause")
	err := errorutil.NewWrapperError(errBoom, cause)
	if !errors.Is(err, errBoom) || !errors.Is(err, cause) {
		t.Fatalf("errorutil.NewWrapperError(sentinel, cause) = %v, want both wrapped", err)
	}
	if again := errorutil.NewWrapperError(errBoom, err); again != err { //nolint:errorlint
		t.Fatalf("errorutil.NewWrapperError() re-wrapped an already wrapped error: %v", again)
	}

	err = errorutil.NewWrapperError(errBoom, "code %d", 42)
	if got, want := err.Error(), "boom: code 42"; got != want {
		t.Fatalf("err.Error() = %q, want %q", got, want)
	}
}

func TestJoinPrefix(t *testing.T) {
	t.Parallel()

	if err := errorutil.JoinPrefix("check:", nil, nil); err != nil {
		t.Fatalf("errorutil.JoinPrefix(nil, nil) = %v, want nil", err)
	}

	err := errorutil.JoinPrefix("check:", errBoom)
	if got, want := err.Error(), "check: boom"; got != want {
		t.Fatalf("err.Error() = %q, want %q", got, want)
	}

	err = errorutil.JoinPrefix("check:", errBoom, errorutil.ErrInvalidArgument)
	if !errors.Is(err, errBoom) || !errors.Is(err, errorutil.ErrInvalidArgument) {
		t.Fatalf("errorutil.JoinPrefix() = %v, want both errors wrapped", err)
	}
	if !strings.HasPrefix(err.Error(), "check:\n  - boom") {
		t.Fatalf("err.Error() = %q, want multi-line listing", err.Error())
	}
}
