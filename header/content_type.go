package header

import (
	"strings"

	"braces.dev/errtrace"

	"github.com/ghettovoice/sipcore/internal/util"
	"github.com/ghettovoice/sipcore/uri"
)

// ContentType is a media type with parameters.
type ContentType struct {
	Type    string
	Subtype string
	Params  uri.Params
}

// MediaType returns "type/subtype" in lower case.
func (ct *ContentType) MediaType() string {
	if ct == nil {
		return ""
	}
	return util.LCase(ct.Type + "/" + ct.Subtype)
}

func (ct *ContentType) String() string {
	if ct == nil {
		return ""
	}
	return ct.Type + "/" + ct.Subtype + ct.Params.String()
}

// ParseContentType parses "type/subtype;params".
func ParseContentType(s string) (*ContentType, error) {
	s = strings.TrimSpace(s)
	mt := s
	var ps uri.Params
	if semi := strings.IndexByte(s, ';'); semi >= 0 {
		mt = strings.TrimSpace(s[:semi])
		var err error
		if ps, err = uri.ParseParams(s[semi:]); err != nil {
			return nil, errtrace.Wrap(newHeaderError("content-type", err))
		}
	}
	typ, sub, ok := strings.Cut(mt, "/")
	typ, sub = strings.TrimSpace(typ), strings.TrimSpace(sub)
	if !ok || !IsToken(typ) || !IsToken(sub) {
		return nil, errtrace.Wrap(newHeaderError("content-type", "bad media type %q", mt))
	}
	return &ContentType{Type: typ, Subtype: sub, Params: ps}, nil
}
