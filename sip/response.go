package sip

import (
	"log/slog"
	"strconv"

	"github.com/ghettovoice/sipcore/internal/util"
)

// IncomingResponse is a response received from the transport.
type IncomingResponse struct {
	message
	StatusCode int
	Reason     string
	// Method is the method of the CSeq header.
	Method string
}

// IsProvisional reports whether the response is 1xx.
func (r *IncomingResponse) IsProvisional() bool { return r.StatusCode < 200 }

// IsSuccessful reports whether the response is 2xx.
func (r *IncomingResponse) IsSuccessful() bool { return r.StatusCode >= 200 && r.StatusCode < 300 }

// IsFinal reports whether the response is final.
func (r *IncomingResponse) IsFinal() bool { return r.StatusCode >= 200 }

// String renders the response from its header store.
func (r *IncomingResponse) String() string {
	if r == nil {
		return "<nil>"
	}

	sb := util.GetStringBuilder()
	defer util.FreeStringBuilder(sb)

	sb.WriteString(ProtoVersion + " " + strconv.Itoa(r.StatusCode) + " " + r.Reason + "\r\n")
	r.hdrs.writeTo(sb, nil)
	sb.WriteString("\r\n")
	sb.Write(r.body)
	return sb.String()
}

// LogValue implements [slog.LogValuer].
func (r *IncomingResponse) LogValue() slog.Value {
	if r == nil {
		return slog.Value{}
	}
	attrs := append([]slog.Attr{
		slog.Int("status", r.StatusCode),
		slog.String("reason", r.Reason),
	}, r.logAttrs()...)
	return slog.GroupValue(attrs...)
}
