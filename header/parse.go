package header

import "braces.dev/errtrace"

// strict lists the headers parsed eagerly when a message is read.
var strict = map[string]bool{
	NameVia:               true,
	NameFrom:              true,
	NameTo:                true,
	NameCallID:            true,
	NameCSeq:              true,
	NameContact:           true,
	NameRecordRoute:       true,
	NameContentLength:     true,
	NameContentType:       true,
	NameMaxForwards:       true,
	NameWWWAuthenticate:   true,
	NameProxyAuthenticate: true,
	NameSessionExpires:    true,
	NameReferTo:           true,
	NameReplaces:          true,
	NameEvent:             true,
}

// IsStrict reports whether the canonical header name must be valid at parse time.
func IsStrict(name string) bool { return strict[name] }

// Parse parses a single header value by its canonical name.
//
// The result type depends on the header:
//   - Via: *Via
//   - From, To, Route, Record-Route, Refer-To: *NameAddr
//   - Contact: *NameAddr (possibly a wildcard)
//   - CSeq: CSeq
//   - Call-ID: string
//   - Content-Length, Max-Forwards: int
//   - Content-Type: *ContentType
//   - WWW-Authenticate, Proxy-Authenticate: *Challenge
//   - Session-Expires: *SessionExpires
//   - Replaces: *Replaces
//   - Event: *Event
//
// Any other header is returned as the raw string.
func Parse(name, value string) (any, error) {
	switch name {
	case NameVia:
		return errtrace.Wrap2(ParseVia(value))
	case NameFrom, NameTo, NameRoute, NameRecordRoute, NameReferTo:
		return errtrace.Wrap2(ParseNameAddr(value))
	case NameContact:
		return errtrace.Wrap2(ParseContact(value))
	case NameCSeq:
		return errtrace.Wrap2(ParseCSeq(value))
	case NameCallID:
		return errtrace.Wrap2(ParseCallID(value))
	case NameContentLength:
		return errtrace.Wrap2(ParseContentLength(value))
	case NameMaxForwards:
		return errtrace.Wrap2(ParseMaxForwards(value))
	case NameContentType:
		return errtrace.Wrap2(ParseContentType(value))
	case NameWWWAuthenticate, NameProxyAuthenticate:
		return errtrace.Wrap2(ParseChallenge(value))
	case NameSessionExpires:
		return errtrace.Wrap2(ParseSessionExpires(value))
	case NameReplaces:
		return errtrace.Wrap2(ParseReplaces(value))
	case NameEvent:
		return errtrace.Wrap2(ParseEvent(value))
	}
	return value, nil
}
