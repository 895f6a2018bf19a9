package header

import (
	"strings"

	"braces.dev/errtrace"

	"github.com/ghettovoice/sipcore/internal/util"
	"github.com/ghettovoice/sipcore/uri"
)

// Challenge is a WWW-Authenticate or Proxy-Authenticate value.
type Challenge struct {
	Scheme    string
	Realm     string
	Domain    string
	Nonce     string
	Opaque    string
	Algorithm string
	Qop       []string
	Stale     bool
	// Params holds every auth-param including the known ones above.
	Params uri.Params
}

// ParseChallenge parses "<scheme> name=value, name=value...".
func ParseChallenge(s string) (*Challenge, error) {
	s = strings.TrimSpace(s)
	sp := strings.IndexAny(s, " \t")
	if sp <= 0 {
		return nil, errtrace.Wrap(newHeaderError("challenge", "missing auth-params"))
	}
	ch := &Challenge{Scheme: s[:sp]}
	if !IsToken(ch.Scheme) {
		return nil, errtrace.Wrap(newHeaderError("challenge", "bad scheme %q", ch.Scheme))
	}

	ps, err := parseAuthParams(s[sp:])
	if err != nil {
		return nil, errtrace.Wrap(newHeaderError("challenge", err))
	}
	ch.Params = ps
	for _, p := range ps {
		v := uri.Unquote(p.Value)
		switch util.LCase(p.Name) {
		case "realm":
			ch.Realm = v
		case "domain":
			ch.Domain = v
		case "nonce":
			ch.Nonce = v
		case "opaque":
			ch.Opaque = v
		case "algorithm":
			ch.Algorithm = v
		case "stale":
			ch.Stale = util.EqFold(v, "true")
		case "qop":
			for q := range strings.SplitSeq(v, ",") {
				if q = strings.TrimSpace(q); q != "" {
					ch.Qop = append(ch.Qop, util.LCase(q))
				}
			}
		}
	}
	return ch, nil
}

// parseAuthParams parses a comma separated list of name=value pairs.
// Values may be quoted and contain commas.
func parseAuthParams(s string) (uri.Params, error) {
	var ps uri.Params
	for _, item := range SplitValues(s) {
		eq := strings.IndexByte(item, '=')
		if eq <= 0 {
			return nil, errtrace.Wrap(newHeaderError("auth-param", "malformed %q", item))
		}
		name := strings.TrimSpace(item[:eq])
		val := strings.TrimSpace(item[eq+1:])
		if !IsToken(name) || val == "" {
			return nil, errtrace.Wrap(newHeaderError("auth-param", "malformed %q", item))
		}
		if val[0] == '"' {
			end, err := quotedEnd(val, 0)
			if err != nil || end != len(val) {
				return nil, errtrace.Wrap(newHeaderError("auth-param", "bad quoted value %q", val))
			}
		} else if !IsToken(val) {
			return nil, errtrace.Wrap(newHeaderError("auth-param", "bad value %q", val))
		}
		ps = append(ps, uri.Param{Name: name, Value: val, HasValue: true})
	}
	return ps, nil
}
