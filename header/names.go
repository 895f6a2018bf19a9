package header

import (
	"strings"

	"github.com/ghettovoice/sipcore/internal/util"
)

// Canonical names of the headers with special handling.
const (
	NameVia               = "Via"
	NameFrom              = "From"
	NameTo                = "To"
	NameCallID            = "Call-ID"
	NameCSeq              = "CSeq"
	NameContact           = "Contact"
	NameRoute             = "Route"
	NameRecordRoute       = "Record-Route"
	NameMaxForwards       = "Max-Forwards"
	NameContentLength     = "Content-Length"
	NameContentType       = "Content-Type"
	NameWWWAuthenticate   = "WWW-Authenticate"
	NameProxyAuthenticate = "Proxy-Authenticate"
	NameAuthorization     = "Authorization"
	NameProxyAuthz        = "Proxy-Authorization"
	NameSessionExpires    = "Session-Expires"
	NameReferTo           = "Refer-To"
	NameReplaces          = "Replaces"
	NameEvent             = "Event"
	NameAllow             = "Allow"
	NameAccept            = "Accept"
	NameSupported         = "Supported"
	NameUserAgent         = "User-Agent"
	NameRetryAfter        = "Retry-After"
	NameReason            = "Reason"
)

var compactForms = map[string]string{
	"a": "accept-contact",
	"b": "referred-by",
	"c": "content-type",
	"d": "request-disposition",
	"e": "content-encoding",
	"f": "from",
	"i": "call-id",
	"j": "reject-contact",
	"k": "supported",
	"l": "content-length",
	"m": "contact",
	"o": "event",
	"r": "refer-to",
	"s": "subject",
	"t": "to",
	"u": "allow-events",
	"v": "via",
	"x": "session-expires",
	"y": "identity",
}

var canonExceptions = map[string]string{
	"call-id":          NameCallID,
	"cseq":             NameCSeq,
	"www-authenticate": NameWWWAuthenticate,
	"mime-version":     "MIME-Version",
	"sip-etag":         "SIP-ETag",
	"sip-if-match":     "SIP-If-Match",
}

// CanonicName returns the canonical form of a header name:
// compact forms are expanded and every dash-separated word is capitalized.
func CanonicName(name string) string {
	name = util.LCase(strings.TrimSpace(name))
	if full, ok := compactForms[name]; ok {
		name = full
	}
	if c, ok := canonExceptions[name]; ok {
		return c
	}

	b := []byte(name)
	upper := true
	for i, c := range b {
		if upper && c >= 'a' && c <= 'z' {
			b[i] = c - 'a' + 'A'
		}
		upper = c == '-'
	}
	return string(b)
}

// IsMultiValued reports whether comma separated values of the header are split
// into separate occurrences.
func IsMultiValued(name string) bool {
	switch name {
	case NameVia, NameContact, NameRecordRoute, NameRoute:
		return true
	}
	return false
}

// SplitValues splits a header value on commas that are outside of quoted
// strings and angle brackets.
func SplitValues(v string) []string {
	var (
		out     []string
		start   int
		inQuote bool
		inAngle bool
	)
	for i := 0; i < len(v); i++ {
		switch c := v[i]; {
		case inQuote:
			if c == '\\' {
				i++
			} else if c == '"' {
				inQuote = false
			}
		case c == '"':
			inQuote = true
		case c == '<':
			inAngle = true
		case c == '>':
			inAngle = false
		case c == ',' && !inAngle:
			out = append(out, strings.TrimSpace(v[start:i]))
			start = i + 1
		}
	}
	return append(out, strings.TrimSpace(v[start:]))
}
