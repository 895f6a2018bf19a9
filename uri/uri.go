package uri

import (
	"fmt"
	"strconv"
	"strings"

	"braces.dev/errtrace"

	"github.com/ghettovoice/sipcore/internal/errorutil"
	"github.com/ghettovoice/sipcore/internal/util"
)

// ErrInvalidURI is returned when a URI fails its grammar.
const ErrInvalidURI errorutil.Error = "invalid URI"

// URI is a parsed URI.
// For the sip and sips schemes the structured fields are filled, for any other
// scheme everything after "scheme:" is kept in Opaque.
type URI struct {
	Scheme      string
	User        string
	Password    string
	HasPassword bool
	Host        string
	Port        uint16
	Params      Params
	// Headers is the raw header part following '?', without the '?'.
	Headers string
	Opaque  string
}

// IsSIP reports whether the URI has the sip or sips scheme.
func (u *URI) IsSIP() bool {
	return u != nil && (u.Scheme == "sip" || u.Scheme == "sips")
}

// IsSecure reports whether the URI has the sips scheme.
func (u *URI) IsSecure() bool { return u != nil && u.Scheme == "sips" }

// Clone returns a deep copy of the URI.
func (u *URI) Clone() *URI {
	if u == nil {
		return nil
	}
	u2 := *u
	u2.Params = u.Params.Clone()
	return &u2
}

// HostPort renders host[:port].
func (u *URI) HostPort() string {
	if u.Port == 0 {
		return u.Host
	}
	return u.Host + ":" + strconv.Itoa(int(u.Port))
}

// String renders the URI.
func (u *URI) String() string {
	if u == nil {
		return ""
	}

	sb := util.GetStringBuilder()
	defer util.FreeStringBuilder(sb)

	sb.WriteString(u.Scheme)
	sb.WriteByte(':')
	if !u.IsSIP() {
		sb.WriteString(u.Opaque)
		return sb.String()
	}
	if u.User != "" {
		sb.WriteString(u.User)
		if u.HasPassword {
			sb.WriteByte(':')
			sb.WriteString(u.Password)
		}
		sb.WriteByte('@')
	}
	sb.WriteString(u.HostPort())
	u.Params.writeTo(sb)
	if u.Headers != "" {
		sb.WriteByte('?')
		sb.WriteString(u.Headers)
	}
	return sb.String()
}

// Equal compares URIs by their rendered form, with scheme and host compared case-insensitively.
func (u *URI) Equal(other *URI) bool {
	if u == nil || other == nil {
		return u == other
	}
	return util.EqFold(u.Scheme, other.Scheme) &&
		u.User == other.User &&
		util.EqFold(u.Host, other.Host) &&
		u.Port == other.Port &&
		u.Opaque == other.Opaque &&
		u.Params.String() == other.Params.String() &&
		u.Headers == other.Headers
}

// MustParse is like [Parse] but panics on error.
func MustParse(s string) *URI {
	u, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return u
}

// Parse parses an absolute URI.
func Parse(s string) (*URI, error) {
	s = strings.TrimSpace(s)
	colon := strings.IndexByte(s, ':')
	if colon <= 0 {
		return nil, errtrace.Wrap(errorutil.NewWrapperError(ErrInvalidURI, "missing scheme in %q", s))
	}
	scheme := util.LCase(s[:colon])
	if !isScheme(scheme) {
		return nil, errtrace.Wrap(errorutil.NewWrapperError(ErrInvalidURI, "bad scheme %q", scheme))
	}
	rest := s[colon+1:]

	u := &URI{Scheme: scheme}
	if !u.IsSIP() {
		if rest == "" || strings.ContainsAny(rest, " \t\r\n<>\"") {
			return nil, errtrace.Wrap(errorutil.NewWrapperError(ErrInvalidURI, "bad %s URI %q", scheme, s))
		}
		u.Opaque = rest
		return u, nil
	}

	if q := strings.IndexByte(rest, '?'); q >= 0 {
		u.Headers = rest[q+1:]
		rest = rest[:q]
		if u.Headers == "" {
			return nil, errtrace.Wrap(errorutil.NewWrapperError(ErrInvalidURI, "empty headers in %q", s))
		}
	}

	if at := strings.IndexByte(rest, '@'); at >= 0 {
		userinfo := rest[:at]
		rest = rest[at+1:]
		if userinfo == "" {
			return nil, errtrace.Wrap(errorutil.NewWrapperError(ErrInvalidURI, "empty user in %q", s))
		}
		if c := strings.IndexByte(userinfo, ':'); c >= 0 {
			u.User, u.Password, u.HasPassword = userinfo[:c], userinfo[c+1:], true
		} else {
			u.User = userinfo
		}
		if strings.ContainsAny(userinfo, " \t\r\n<>\"") {
			return nil, errtrace.Wrap(errorutil.NewWrapperError(ErrInvalidURI, "bad user in %q", s))
		}
	}

	hostport := rest
	if semi := strings.IndexByte(rest, ';'); semi >= 0 {
		hostport = rest[:semi]
		ps, err := ParseParams(rest[semi:])
		if err != nil {
			return nil, errtrace.Wrap(errorutil.NewWrapperError(ErrInvalidURI, err))
		}
		u.Params = ps
	}

	host, port, err := splitHostPort(hostport)
	if err != nil {
		return nil, errtrace.Wrap(errorutil.NewWrapperError(ErrInvalidURI, "%v in %q", err, s))
	}
	u.Host, u.Port = host, port
	return u, nil
}

func isScheme(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z':
		case i > 0 && (c >= '0' && c <= '9' || c == '+' || c == '-' || c == '.'):
		default:
			return false
		}
	}
	return s != ""
}

func splitHostPort(s string) (string, uint16, error) {
	var host, port string
	if strings.HasPrefix(s, "[") {
		end := strings.IndexByte(s, ']')
		if end < 0 {
			return "", 0, errtrace.Wrap(fmt.Errorf("unterminated IPv6 reference"))
		}
		host = s[:end+1]
		rest := s[end+1:]
		if rest != "" {
			if rest[0] != ':' {
				return "", 0, errtrace.Wrap(fmt.Errorf("unexpected %q after host", rest))
			}
			port = rest[1:]
		}
	} else {
		host = s
		if c := strings.IndexByte(s, ':'); c >= 0 {
			host, port = s[:c], s[c+1:]
		}
		if !IsHostname(host) {
			return "", 0, errtrace.Wrap(fmt.Errorf("bad host %q", host))
		}
	}
	if host == "" {
		return "", 0, errtrace.Wrap(fmt.Errorf("empty host"))
	}
	if port == "" {
		if strings.HasSuffix(s, ":") {
			return "", 0, errtrace.Wrap(fmt.Errorf("empty port"))
		}
		return host, 0, nil
	}
	p, err := strconv.ParseUint(port, 10, 16)
	if err != nil {
		return "", 0, errtrace.Wrap(fmt.Errorf("bad port %q", port))
	}
	return host, uint16(p), nil
}

// IsHostname reports whether s is a hostname or an IPv4 address.
func IsHostname(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !(c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '-' || c == '.' || c == '_') {
			return false
		}
	}
	return true
}

// ParseParams parses a ";name[=value]" sequence. Values may be quoted strings.
func ParseParams(s string) (Params, error) {
	var ps Params
	i := 0
	for i < len(s) {
		for i < len(s) && (s[i] == ' ' || s[i] == '\t') {
			i++
		}
		if i == len(s) {
			break
		}
		if s[i] != ';' {
			return nil, errtrace.Wrap(fmt.Errorf("expected ';' at %d in %q", i, s))
		}
		i++
		for i < len(s) && (s[i] == ' ' || s[i] == '\t') {
			i++
		}

		start := i
		for i < len(s) && !strings.ContainsRune("=; \t", rune(s[i])) {
			i++
		}
		name := s[start:i]
		if name == "" || strings.ContainsAny(name, "\"<>,") {
			return nil, errtrace.Wrap(fmt.Errorf("bad parameter name in %q", s))
		}
		for i < len(s) && (s[i] == ' ' || s[i] == '\t') {
			i++
		}

		p := Param{Name: name}
		if i < len(s) && s[i] == '=' {
			i++
			for i < len(s) && (s[i] == ' ' || s[i] == '\t') {
				i++
			}
			start = i
			if i < len(s) && s[i] == '"' {
				end, err := skipQuoted(s, i)
				if err != nil {
					return nil, errtrace.Wrap(err)
				}
				i = end
			} else {
				for i < len(s) && !strings.ContainsRune("; \t", rune(s[i])) {
					i++
				}
			}
			p.Value, p.HasValue = s[start:i], true
			if p.Value == "" {
				return nil, errtrace.Wrap(fmt.Errorf("empty value of parameter %q", name))
			}
		}
		ps = append(ps, p)
	}
	return ps, nil
}

// skipQuoted returns the index just after the quoted string starting at s[i].
func skipQuoted(s string, i int) (int, error) {
	for j := i + 1; j < len(s); j++ {
		switch s[j] {
		case '\\':
			j++
		case '"':
			return j + 1, nil
		}
	}
	return 0, errtrace.Wrap(fmt.Errorf("unterminated quoted string in %q", s))
}
