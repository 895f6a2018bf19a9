package header

import (
	"strconv"
	"strings"

	"braces.dev/errtrace"

	"github.com/ghettovoice/sipcore/internal/util"
	"github.com/ghettovoice/sipcore/uri"
)

// MagicCookie prefixes every RFC 3261 compliant branch.
const MagicCookie = "z9hG4bK"

// Via is a single Via header value.
type Via struct {
	Proto     string
	Version   string
	Transport string
	Host      string
	Port      uint16
	Params    uri.Params
}

// Branch returns the branch parameter.
func (v *Via) Branch() string {
	if v == nil {
		return ""
	}
	b, _ := v.Params.Get("branch")
	return b
}

// Clone returns a deep copy.
func (v *Via) Clone() *Via {
	if v == nil {
		return nil
	}
	v2 := *v
	v2.Params = v.Params.Clone()
	return &v2
}

// String renders "SIP/2.0/<transport> host[:port];params".
func (v *Via) String() string {
	if v == nil {
		return ""
	}

	sb := util.GetStringBuilder()
	defer util.FreeStringBuilder(sb)

	sb.WriteString(v.Proto)
	sb.WriteByte('/')
	sb.WriteString(v.Version)
	sb.WriteByte('/')
	sb.WriteString(v.Transport)
	sb.WriteByte(' ')
	sb.WriteString(v.Host)
	if v.Port != 0 {
		sb.WriteByte(':')
		sb.WriteString(strconv.Itoa(int(v.Port)))
	}
	sb.WriteString(v.Params.String())
	return sb.String()
}

// ParseVia parses a single via-parm.
func ParseVia(s string) (*Via, error) {
	s = strings.TrimSpace(s)
	parts, i, ok := scanSentProtocol(s)
	if !ok {
		return nil, errtrace.Wrap(newHeaderError("via", "bad sent-protocol %q", s))
	}
	if i == len(s) {
		return nil, errtrace.Wrap(newHeaderError("via", "missing sent-by"))
	}
	if !isLWS(s[i]) {
		return nil, errtrace.Wrap(newHeaderError("via", "bad sent-protocol %q", s))
	}

	v := &Via{
		Proto:     util.UCase(parts[0]),
		Version:   parts[1],
		Transport: util.UCase(parts[2]),
	}

	rest := strings.TrimSpace(s[i:])
	sentBy := rest
	if semi := strings.IndexByte(rest, ';'); semi >= 0 {
		sentBy = strings.TrimSpace(rest[:semi])
		ps, err := uri.ParseParams(rest[semi:])
		if err != nil {
			return nil, errtrace.Wrap(newHeaderError("via", err))
		}
		v.Params = ps
	}

	// LWS is allowed around the port colon
	hp := strings.Split(sentBy, ":")
	for i := range hp {
		hp[i] = strings.TrimSpace(hp[i])
	}
	sentBy = strings.Join(hp, ":")

	u, err := uri.Parse("sip:" + sentBy)
	if err != nil || u.User != "" || u.Headers != "" || len(u.Params) > 0 {
		return nil, errtrace.Wrap(newHeaderError("via", "bad sent-by %q", sentBy))
	}
	v.Host, v.Port = u.Host, u.Port

	if b, ok := v.Params.Get("branch"); ok && !IsToken(b) {
		return nil, errtrace.Wrap(newHeaderError("via", "bad branch %q", b))
	}
	return v, nil
}

// scanSentProtocol scans "name / version / transport", LWS is allowed around
// the slashes. It returns the three tokens and the offset after the last one.
func scanSentProtocol(s string) (parts [3]string, end int, ok bool) {
	i := 0
	for n := range parts {
		if n > 0 {
			i = skipLWS(s, i)
			if i == len(s) || s[i] != '/' {
				return parts, i, false
			}
			i = skipLWS(s, i+1)
		}
		start := i
		for i < len(s) && isTokenChar(s[i]) {
			i++
		}
		if i == start {
			return parts, i, false
		}
		parts[n] = s[start:i]
	}
	return parts, i, true
}
