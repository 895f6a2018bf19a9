package header

import (
	"strings"

	"braces.dev/errtrace"

	"github.com/ghettovoice/sipcore/internal/util"
	"github.com/ghettovoice/sipcore/uri"
)

// NameAddr is the value of From, To, Contact, Route, Record-Route and Refer-To headers.
type NameAddr struct {
	DisplayName string
	URI         *uri.URI
	Params      uri.Params
	// Wildcard is set for the "Contact: *" form.
	Wildcard bool
}

// Tag returns the tag parameter.
func (na *NameAddr) Tag() string {
	if na == nil {
		return ""
	}
	v, _ := na.Params.Get("tag")
	return v
}

// Clone returns a deep copy.
func (na *NameAddr) Clone() *NameAddr {
	if na == nil {
		return nil
	}
	na2 := *na
	na2.URI = na.URI.Clone()
	na2.Params = na.Params.Clone()
	return &na2
}

// String renders the name-addr form, the URI is always enclosed in angle brackets.
func (na *NameAddr) String() string {
	if na == nil {
		return ""
	}
	if na.Wildcard {
		return "*"
	}

	sb := util.GetStringBuilder()
	defer util.FreeStringBuilder(sb)

	if na.DisplayName != "" {
		if isDisplayTokens(na.DisplayName) {
			sb.WriteString(na.DisplayName)
		} else {
			sb.WriteString(uri.Quote(na.DisplayName))
		}
		sb.WriteByte(' ')
	}
	sb.WriteByte('<')
	sb.WriteString(na.URI.String())
	sb.WriteByte('>')
	sb.WriteString(na.Params.String())
	return sb.String()
}

func isDisplayTokens(s string) bool {
	for _, f := range strings.Fields(s) {
		if !IsToken(f) {
			return false
		}
	}
	return s != ""
}

// ParseNameAddr parses a name-addr or addr-spec followed by header parameters.
func ParseNameAddr(v string) (*NameAddr, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil, errtrace.Wrap(newHeaderError("name-addr", "empty value"))
	}

	na := new(NameAddr)
	var rest string
	switch {
	case v[0] == '"':
		end, err := quotedEnd(v, 0)
		if err != nil {
			return nil, errtrace.Wrap(newHeaderError("name-addr", err))
		}
		na.DisplayName = uri.Unquote(v[:end])
		i := skipLWS(v, end)
		if i >= len(v) || v[i] != '<' {
			return nil, errtrace.Wrap(newHeaderError("name-addr", "expected '<' after display name"))
		}
		rest = v[i:]
	case strings.IndexByte(v, '<') >= 0:
		lt := strings.IndexByte(v, '<')
		name := strings.TrimSpace(v[:lt])
		if name != "" && !isDisplayTokens(name) {
			return nil, errtrace.Wrap(newHeaderError("name-addr", "bad display name %q", name))
		}
		na.DisplayName = strings.Join(strings.Fields(name), " ")
		rest = v[lt:]
	default:
		// addr-spec: everything up to the first ';' belongs to the URI,
		// and its parameters are header parameters
		semi := strings.IndexByte(v, ';')
		spec := v
		if semi >= 0 {
			spec, rest = v[:semi], v[semi:]
		}
		if strings.IndexByte(spec, '?') >= 0 || strings.IndexByte(spec, ',') >= 0 {
			return nil, errtrace.Wrap(newHeaderError("name-addr", "addr-spec must not contain headers"))
		}
		u, err := uri.Parse(spec)
		if err != nil {
			return nil, errtrace.Wrap(newHeaderError("name-addr", err))
		}
		na.URI = u
		return errtrace.Wrap2(na.parseParams(rest))
	}

	gt := strings.IndexByte(rest, '>')
	if gt < 0 {
		return nil, errtrace.Wrap(newHeaderError("name-addr", "missing '>'"))
	}
	u, err := uri.Parse(rest[1:gt])
	if err != nil {
		return nil, errtrace.Wrap(newHeaderError("name-addr", err))
	}
	na.URI = u
	return errtrace.Wrap2(na.parseParams(rest[gt+1:]))
}

func (na *NameAddr) parseParams(s string) (*NameAddr, error) {
	if strings.TrimSpace(s) == "" {
		return na, nil
	}
	ps, err := uri.ParseParams(s)
	if err != nil {
		return nil, errtrace.Wrap(newHeaderError("name-addr", err))
	}
	for _, p := range ps {
		if !IsToken(p.Name) {
			return nil, errtrace.Wrap(newHeaderError("name-addr", "bad parameter %q", p.Name))
		}
	}
	na.Params = ps
	return na, nil
}

// ParseContact is like [ParseNameAddr] but also accepts the "*" form.
func ParseContact(v string) (*NameAddr, error) {
	if strings.TrimSpace(v) == "*" {
		return &NameAddr{Wildcard: true}, nil
	}
	return errtrace.Wrap2(ParseNameAddr(v))
}

func quotedEnd(s string, i int) (int, error) {
	for j := i + 1; j < len(s); j++ {
		switch s[j] {
		case '\\':
			j++
		case '"':
			return j + 1, nil
		}
	}
	return 0, errtrace.Wrap(newHeaderError("quoted-string", "unterminated"))
}
