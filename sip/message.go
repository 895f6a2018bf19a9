package sip

import (
	"log/slog"

	"braces.dev/errtrace"

	"github.com/ghettovoice/sipcore/header"
	"github.com/ghettovoice/sipcore/internal/errorutil"
)

// Message is a SIP message: [*IncomingRequest], [*IncomingResponse] or [*OutgoingRequest].
type Message interface {
	// Headers returns the header store of the message.
	Headers() *Headers
	// Body returns the message body.
	Body() []byte
	CallID() string
	CSeq() header.CSeq
	FromTag() string
	ToTag() string
	// String renders the message in wire format.
	String() string

	sipMessage()
}

// message holds the header store and the scalars derived from it.
type message struct {
	hdrs      Headers
	body      []byte
	callID    string
	cseq      header.CSeq
	fromTag   string
	toTag     string
	viaBranch string
}

func (*message) sipMessage() {}

// Headers returns the header store of the message.
func (m *message) Headers() *Headers { return &m.hdrs }

// Body returns the message body.
func (m *message) Body() []byte { return m.body }

// CallID returns the Call-ID header value.
func (m *message) CallID() string { return m.callID }

// CSeq returns the CSeq header value.
func (m *message) CSeq() header.CSeq { return m.cseq }

// FromTag returns the tag parameter of the From header.
func (m *message) FromTag() string { return m.fromTag }

// ToTag returns the tag parameter of the To header.
func (m *message) ToTag() string { return m.toTag }

// ViaBranch returns the branch parameter of the topmost Via header.
func (m *message) ViaBranch() string { return m.viaBranch }

// derive fills the scalar fields from the mandatory headers.
func (m *message) derive() error {
	for _, n := range []string{header.NameFrom, header.NameTo, header.NameCallID, header.NameCSeq, header.NameVia} {
		if !m.hdrs.Has(n) {
			return errtrace.Wrap(errorutil.NewWrapperError(errMissHdrs, n))
		}
	}

	via, err := m.TopVia()
	if err != nil {
		return errtrace.Wrap(err)
	}
	if err := m.deriveIDs(); err != nil {
		return errtrace.Wrap(err)
	}
	m.viaBranch = via.Branch()
	return nil
}

// deriveIDs fills the tags, Call-ID and CSeq.
func (m *message) deriveIDs() error {
	from, err := m.From()
	if err != nil {
		return errtrace.Wrap(err)
	}
	to, err := m.To()
	if err != nil {
		return errtrace.Wrap(err)
	}
	cid, err := m.hdrs.Parsed(header.NameCallID, 0)
	if err != nil {
		return errtrace.Wrap(err)
	}
	cseq, err := m.hdrs.Parsed(header.NameCSeq, 0)
	if err != nil {
		return errtrace.Wrap(err)
	}

	m.fromTag = from.Tag()
	m.toTag = to.Tag()
	m.callID = cid.(string)     //nolint:forcetypeassert
	m.cseq = cseq.(header.CSeq) //nolint:forcetypeassert
	return nil
}

func parsedAs[T any](h *Headers, name string, i int) (T, error) {
	var zero T
	v, err := h.Parsed(name, i)
	if err != nil {
		return zero, errtrace.Wrap(err)
	}
	t, ok := v.(T)
	if !ok {
		return zero, errtrace.Wrap(NewInvalidArgumentError("unexpected %q value type %T", name, v))
	}
	return t, nil
}

func parsedAll[T any](h *Headers, name string) ([]T, error) {
	var out []T
	for i := range h.Count(name) {
		t, err := parsedAs[T](h, name, i)
		if err != nil {
			return out, errtrace.Wrap(err)
		}
		out = append(out, t)
	}
	return out, nil
}

// From returns the parsed From header.
func (m *message) From() (*header.NameAddr, error) {
	return errtrace.Wrap2(parsedAs[*header.NameAddr](&m.hdrs, header.NameFrom, 0))
}

// To returns the parsed To header.
func (m *message) To() (*header.NameAddr, error) {
	return errtrace.Wrap2(parsedAs[*header.NameAddr](&m.hdrs, header.NameTo, 0))
}

// TopVia returns the topmost Via header.
func (m *message) TopVia() (*header.Via, error) {
	return errtrace.Wrap2(parsedAs[*header.Via](&m.hdrs, header.NameVia, 0))
}

// Vias returns all Via headers in order.
func (m *message) Vias() ([]*header.Via, error) {
	return errtrace.Wrap2(parsedAll[*header.Via](&m.hdrs, header.NameVia))
}

// Contact returns the first Contact header.
func (m *message) Contact() (*header.NameAddr, error) {
	return errtrace.Wrap2(parsedAs[*header.NameAddr](&m.hdrs, header.NameContact, 0))
}

// RecordRoute returns all Record-Route headers in order.
func (m *message) RecordRoute() ([]*header.NameAddr, error) {
	return errtrace.Wrap2(parsedAll[*header.NameAddr](&m.hdrs, header.NameRecordRoute))
}

// Challenge returns the first WWW-Authenticate or Proxy-Authenticate header.
func (m *message) Challenge(name string) (*header.Challenge, error) {
	return errtrace.Wrap2(parsedAs[*header.Challenge](&m.hdrs, name, 0))
}

// ContentType returns the Content-Type header.
func (m *message) ContentType() (*header.ContentType, error) {
	return errtrace.Wrap2(parsedAs[*header.ContentType](&m.hdrs, header.NameContentType, 0))
}

// ContentLength returns the Content-Length header value.
func (m *message) ContentLength() (int, bool) {
	n, err := parsedAs[int](&m.hdrs, header.NameContentLength, 0)
	return n, err == nil
}

// SessionExpires returns the Session-Expires header.
func (m *message) SessionExpires() (*header.SessionExpires, error) {
	return errtrace.Wrap2(parsedAs[*header.SessionExpires](&m.hdrs, header.NameSessionExpires, 0))
}

// ReferTo returns the Refer-To header.
func (m *message) ReferTo() (*header.NameAddr, error) {
	return errtrace.Wrap2(parsedAs[*header.NameAddr](&m.hdrs, header.NameReferTo, 0))
}

// Replaces returns the Replaces header.
func (m *message) Replaces() (*header.Replaces, error) {
	return errtrace.Wrap2(parsedAs[*header.Replaces](&m.hdrs, header.NameReplaces, 0))
}

// Event returns the Event header.
func (m *message) Event() (*header.Event, error) {
	return errtrace.Wrap2(parsedAs[*header.Event](&m.hdrs, header.NameEvent, 0))
}

func (m *message) logAttrs() []slog.Attr {
	return []slog.Attr{
		slog.String("call_id", m.callID),
		slog.String("cseq", m.cseq.String()),
		slog.String("branch", m.viaBranch),
	}
}
