package header

import (
	"strconv"
	"strings"

	"braces.dev/errtrace"

	"github.com/ghettovoice/sipcore/internal/util"
	"github.com/ghettovoice/sipcore/uri"
)

// SessionExpires is the RFC 4028 Session-Expires value.
type SessionExpires struct {
	Delta     uint32
	Refresher string
	Params    uri.Params
}

func (se *SessionExpires) String() string {
	if se == nil {
		return ""
	}
	return strconv.FormatUint(uint64(se.Delta), 10) + se.Params.String()
}

// ParseSessionExpires parses "delta-seconds;refresher=uac|uas".
func ParseSessionExpires(s string) (*SessionExpires, error) {
	s = strings.TrimSpace(s)
	num, rest := s, ""
	if semi := strings.IndexByte(s, ';'); semi >= 0 {
		num, rest = strings.TrimSpace(s[:semi]), s[semi:]
	}
	if !isDigits(num) {
		return nil, errtrace.Wrap(newHeaderError("session-expires", "bad delta %q", num))
	}
	d, err := strconv.ParseUint(num, 10, 32)
	if err != nil {
		return nil, errtrace.Wrap(newHeaderError("session-expires", err))
	}
	se := &SessionExpires{Delta: uint32(d)}
	if rest != "" {
		if se.Params, err = uri.ParseParams(rest); err != nil {
			return nil, errtrace.Wrap(newHeaderError("session-expires", err))
		}
		if r, ok := se.Params.Get("refresher"); ok {
			se.Refresher = util.LCase(r)
			if se.Refresher != "uac" && se.Refresher != "uas" {
				return nil, errtrace.Wrap(newHeaderError("session-expires", "bad refresher %q", r))
			}
		}
	}
	return se, nil
}

// Replaces is the RFC 3891 Replaces value.
type Replaces struct {
	CallID    string
	ToTag     string
	FromTag   string
	EarlyOnly bool
	Params    uri.Params
}

func (r *Replaces) String() string {
	if r == nil {
		return ""
	}
	return r.CallID + r.Params.String()
}

// ParseReplaces parses "callid;to-tag=x;from-tag=y[;early-only]".
func ParseReplaces(s string) (*Replaces, error) {
	s = strings.TrimSpace(s)
	semi := strings.IndexByte(s, ';')
	if semi <= 0 {
		return nil, errtrace.Wrap(newHeaderError("replaces", "missing tags"))
	}
	r := &Replaces{CallID: strings.TrimSpace(s[:semi])}
	if !isCallID(r.CallID) {
		return nil, errtrace.Wrap(newHeaderError("replaces", "bad call-id %q", r.CallID))
	}
	ps, err := uri.ParseParams(s[semi:])
	if err != nil {
		return nil, errtrace.Wrap(newHeaderError("replaces", err))
	}
	r.Params = ps
	var okTo, okFrom bool
	r.ToTag, okTo = ps.Get("to-tag")
	r.FromTag, okFrom = ps.Get("from-tag")
	if !okTo || !okFrom {
		return nil, errtrace.Wrap(newHeaderError("replaces", "to-tag and from-tag are required"))
	}
	r.EarlyOnly = ps.Has("early-only")
	return r, nil
}

// Event is the RFC 6665 Event value.
type Event struct {
	Package string
	ID      string
	Params  uri.Params
}

func (e *Event) String() string {
	if e == nil {
		return ""
	}
	return e.Package + e.Params.String()
}

// ParseEvent parses "package[;id=x;params]".
func ParseEvent(s string) (*Event, error) {
	s = strings.TrimSpace(s)
	pkg, rest := s, ""
	if semi := strings.IndexByte(s, ';'); semi >= 0 {
		pkg, rest = strings.TrimSpace(s[:semi]), s[semi:]
	}
	if !IsToken(pkg) {
		return nil, errtrace.Wrap(newHeaderError("event", "bad package %q", pkg))
	}
	e := &Event{Package: util.LCase(pkg)}
	if rest != "" {
		ps, err := uri.ParseParams(rest)
		if err != nil {
			return nil, errtrace.Wrap(newHeaderError("event", err))
		}
		e.Params = ps
		e.ID, _ = ps.Get("id")
	}
	return e, nil
}
