package header

import (
	"strconv"
	"strings"

	"braces.dev/errtrace"

	"github.com/ghettovoice/sipcore/internal/util"
)

// CSeq is the CSeq header value.
type CSeq struct {
	Seq    uint32
	Method string
}

func (c CSeq) String() string { return strconv.FormatUint(uint64(c.Seq), 10) + " " + c.Method }

// ParseCSeq parses "<number> <method>".
func ParseCSeq(s string) (CSeq, error) {
	f := strings.Fields(s)
	if len(f) != 2 || !isDigits(f[0]) || !IsToken(f[1]) {
		return CSeq{}, errtrace.Wrap(newHeaderError("cseq", "malformed %q", s))
	}
	n, err := strconv.ParseUint(f[0], 10, 32)
	if err != nil {
		return CSeq{}, errtrace.Wrap(newHeaderError("cseq", "sequence number out of range"))
	}
	return CSeq{Seq: uint32(n), Method: util.UCase(f[1])}, nil
}
