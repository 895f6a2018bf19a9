package sip

import (
	"fmt"
	"strconv"
	"strings"

	"braces.dev/errtrace"

	"github.com/ghettovoice/sipcore/header"
	"github.com/ghettovoice/sipcore/internal/errorutil"
	"github.com/ghettovoice/sipcore/uri"
)

// Parse states reported by [ParseError].
const (
	ParseStateStartLine = "start-line"
	ParseStateHeaders   = "headers"
	ParseStateBody      = "body"
)

// ParseError is returned by [Parse] when the data is not a valid SIP message.
type ParseError struct {
	Err   error
	State string
	Buf   []byte
}

func (e *ParseError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("parse SIP message at %s: %v", e.State, e.Err)
}

func (e *ParseError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func newParseError(state string, data []byte, args ...any) *ParseError {
	return &ParseError{
		Err:   errorutil.NewWrapperError(ErrInvalidMessage, args...),
		State: state,
		Buf:   data,
	}
}

// Parse parses a single SIP message.
// It returns [*IncomingRequest] or [*IncomingResponse] on success and [*ParseError] on failure.
func Parse(data []byte) (Message, error) {
	s := string(data)
	eol := strings.Index(s, "\r\n")
	if eol < 0 {
		return nil, errtrace.Wrap(newParseError(ParseStateStartLine, data, "no CRLF after start line"))
	}

	var (
		msg Message
		m   *message
	)
	if startLine := s[:eol]; strings.HasPrefix(startLine, "SIP/") {
		res, err := parseStatusLine(startLine)
		if err != nil {
			return nil, errtrace.Wrap(newParseError(ParseStateStartLine, data, err))
		}
		msg, m = res, &res.message
	} else {
		req, err := parseRequestLine(startLine)
		if err != nil {
			return nil, errtrace.Wrap(newParseError(ParseStateStartLine, data, err))
		}
		msg, m = req, &req.message
	}

	pos := eol + 2
	for {
		if strings.HasPrefix(s[pos:], "\r\n") {
			pos += 2
			break
		}
		end := headerEnd(s, pos)
		if end < 0 {
			return nil, errtrace.Wrap(newParseError(ParseStateHeaders, data, "unterminated header block"))
		}
		if err := parseHeaderLine(&m.hdrs, unfold(s[pos:end])); err != nil {
			return nil, errtrace.Wrap(newParseError(ParseStateHeaders, data, err))
		}
		pos = end + 2
	}

	if err := m.derive(); err != nil {
		return nil, errtrace.Wrap(newParseError(ParseStateHeaders, data, err))
	}
	if res, ok := msg.(*IncomingResponse); ok {
		res.Method = m.cseq.Method
	}

	m.body = data[pos:]
	if cl, ok := m.ContentLength(); ok && cl < len(m.body) {
		m.body = m.body[:cl]
	}
	if len(m.body) == 0 {
		m.body = nil
	}
	return msg, nil
}

func parseRequestLine(line string) (*IncomingRequest, error) {
	parts := strings.Split(line, " ")
	if len(parts) != 3 {
		return nil, errtrace.Wrap(fmt.Errorf("malformed request line %q", line))
	}
	if !header.IsToken(parts[0]) {
		return nil, errtrace.Wrap(fmt.Errorf("bad method %q", parts[0]))
	}
	ruri, err := uri.Parse(parts[1])
	if err != nil {
		return nil, errtrace.Wrap(err)
	}
	if !strings.EqualFold(parts[2], ProtoVersion) {
		return nil, errtrace.Wrap(fmt.Errorf("unsupported version %q", parts[2]))
	}
	return &IncomingRequest{Method: parts[0], RURI: ruri}, nil
}

func parseStatusLine(line string) (*IncomingResponse, error) {
	parts := strings.SplitN(line, " ", 3)
	if len(parts) < 2 {
		return nil, errtrace.Wrap(fmt.Errorf("malformed status line %q", line))
	}
	if !strings.EqualFold(parts[0], ProtoVersion) {
		return nil, errtrace.Wrap(fmt.Errorf("unsupported version %q", parts[0]))
	}
	if len(parts[1]) != 3 {
		return nil, errtrace.Wrap(fmt.Errorf("bad status code %q", parts[1]))
	}
	code, err := strconv.Atoi(parts[1])
	if err != nil || code < 100 || code > 699 {
		return nil, errtrace.Wrap(fmt.Errorf("bad status code %q", parts[1]))
	}
	res := &IncomingResponse{StatusCode: code}
	if len(parts) == 3 {
		res.Reason = parts[2]
	}
	return res, nil
}

// headerEnd returns the index of the CRLF terminating the header starting at pos.
// A CRLF followed by whitespace continues the header.
func headerEnd(s string, pos int) int {
	for {
		i := strings.Index(s[pos:], "\r\n")
		if i < 0 {
			return -1
		}
		i += pos
		if i+2 < len(s) && (s[i+2] == ' ' || s[i+2] == '\t') {
			pos = i + 2
			continue
		}
		return i
	}
}

// unfold joins folded lines with a single space.
func unfold(line string) string {
	if !strings.Contains(line, "\r\n") {
		return line
	}
	parts := strings.Split(line, "\r\n")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return strings.Join(parts, " ")
}

func parseHeaderLine(hdrs *Headers, line string) error {
	colon := strings.IndexByte(line, ':')
	if colon <= 0 {
		return errtrace.Wrap(fmt.Errorf("malformed header line %q", line))
	}
	name := strings.TrimSpace(line[:colon])
	if !header.IsToken(name) {
		return errtrace.Wrap(fmt.Errorf("bad header name %q", name))
	}
	name = header.CanonicName(name)
	value := strings.TrimSpace(line[colon+1:])

	values := []string{value}
	if header.IsMultiValued(name) {
		values = header.SplitValues(value)
	}
	for _, v := range values {
		if !header.IsStrict(name) {
			hdrs.add(name, headerEntry{raw: v})
			continue
		}
		parsed, err := header.Parse(name, v)
		if err != nil {
			return errtrace.Wrap(err)
		}
		hdrs.addParsed(name, v, parsed)
	}
	return nil
}
