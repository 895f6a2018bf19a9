package digest

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"braces.dev/errtrace"

	"github.com/ghettovoice/sipcore/header"
	"github.com/ghettovoice/sipcore/internal/errorutil"
	"github.com/ghettovoice/sipcore/internal/util"
)

const (
	ErrUnsupportedAlgorithm errorutil.Error = "unsupported digest algorithm"
	ErrMissingNonce         errorutil.Error = "challenge without nonce"
	ErrMissingRealm         errorutil.Error = "challenge without realm"
	ErrNoCredentials        errorutil.Error = "no password or ha1 configured"
	ErrRealmMismatch        errorutil.Error = "ha1 realm does not match challenge realm"
	ErrUnsupportedQop       errorutil.Error = "unsupported qop"
	ErrNotAuthenticated     errorutil.Error = "not authenticated"
)

// Credentials identify the user agent to a digest challenger.
// Either Password or HA1 with its Realm must be set.
type Credentials struct {
	Username string
	Password string
	Realm    string
	HA1      string
}

// Authenticator computes Authorization values for successive challenges of one request sender.
type Authenticator struct {
	creds Credentials

	method    string
	uri       string
	realm     string
	nonce     string
	opaque    string
	algorithm string
	qop       string
	cnonce    string
	nc        uint32
	ha1       string
	response  string
}

// New creates an authenticator over the given credentials.
func New(creds Credentials) *Authenticator {
	return &Authenticator{creds: creds}
}

// Authenticate consumes a challenge and computes the response for the request.
// On error the authenticator state is left unchanged.
func (a *Authenticator) Authenticate(method, uri string, body []byte, ch *header.Challenge, cnonce string) error {
	if ch == nil {
		return errtrace.Wrap(errorutil.NewInvalidArgumentError("nil challenge"))
	}
	if ch.Algorithm != "" && !util.EqFold(ch.Algorithm, "MD5") {
		return errtrace.Wrap(errorutil.NewWrapperError(ErrUnsupportedAlgorithm, "%q", ch.Algorithm))
	}
	if ch.Nonce == "" {
		return errtrace.Wrap(ErrMissingNonce)
	}
	if ch.Realm == "" {
		return errtrace.Wrap(ErrMissingRealm)
	}

	var qop string
	switch {
	case slices.Contains(ch.Qop, "auth-int"):
		qop = "auth-int"
	case slices.Contains(ch.Qop, "auth"):
		qop = "auth"
	case len(ch.Qop) > 0:
		return errtrace.Wrap(errorutil.NewWrapperError(ErrUnsupportedQop, "%q", strings.Join(ch.Qop, ",")))
	}

	var ha1 string
	switch {
	case a.creds.Password != "":
		ha1 = md5Hex(a.creds.Username + ":" + ch.Realm + ":" + a.creds.Password)
	case a.creds.HA1 != "":
		if a.creds.Realm != ch.Realm {
			return errtrace.Wrap(errorutil.NewWrapperError(ErrRealmMismatch, "%q != %q", a.creds.Realm, ch.Realm))
		}
		ha1 = a.creds.HA1
	default:
		return errtrace.Wrap(ErrNoCredentials)
	}

	if cnonce == "" {
		cnonce = util.RandString(12)
	}

	a.method, a.uri = method, uri
	a.realm, a.nonce, a.opaque = ch.Realm, ch.Nonce, ch.Opaque
	a.algorithm = "MD5"
	a.qop = qop
	a.cnonce = cnonce
	a.ha1 = ha1
	if qop != "" {
		a.nc++
		if a.nc == 0 {
			a.nc = 1
		}
	}

	var ha2 string
	if qop == "auth-int" {
		ha2 = md5Hex(method + ":" + uri + ":" + md5Hex(string(body)))
	} else {
		ha2 = md5Hex(method + ":" + uri)
	}

	if qop != "" {
		a.response = md5Hex(strings.Join([]string{ha1, a.nonce, a.ncHex(), cnonce, qop, ha2}, ":"))
	} else {
		a.response = md5Hex(ha1 + ":" + a.nonce + ":" + ha2)
	}
	return nil
}

func (a *Authenticator) ncHex() string { return fmt.Sprintf("%08x", a.nc) }

// Realm returns the realm of the last accepted challenge.
func (a *Authenticator) Realm() string { return a.realm }

// HA1 returns the HA1 hash used for the last response.
func (a *Authenticator) HA1() string { return a.ha1 }

// NonceCount returns the current nonce count.
func (a *Authenticator) NonceCount() uint32 { return a.nc }

// Response returns the last computed response hash.
func (a *Authenticator) Response() string { return a.response }

// Header renders the Authorization or Proxy-Authorization value.
func (a *Authenticator) Header() (string, error) {
	if a.response == "" {
		return "", errtrace.Wrap(ErrNotAuthenticated)
	}
	return a.String(), nil
}

// String renders the credentials, or an empty string before the first Authenticate.
func (a *Authenticator) String() string {
	if a.response == "" {
		return ""
	}

	sb := util.GetStringBuilder()
	defer util.FreeStringBuilder(sb)

	fmt.Fprintf(sb, `Digest algorithm=%s, username="%s", realm="%s", nonce="%s", uri="%s", response="%s"`,
		a.algorithm, a.creds.Username, a.realm, a.nonce, a.uri, a.response)
	if a.opaque != "" {
		fmt.Fprintf(sb, `, opaque="%s"`, a.opaque)
	}
	if a.qop != "" {
		fmt.Fprintf(sb, `, qop=%s, cnonce="%s", nc=%s`, a.qop, a.cnonce, a.ncHex())
	}
	return sb.String()
}

// LogValue implements [slog.LogValuer].
func (a *Authenticator) LogValue() slog.Value {
	if a == nil {
		return slog.Value{}
	}
	return slog.GroupValue(
		slog.String("username", a.creds.Username),
		slog.String("realm", a.realm),
		slog.String("qop", a.qop),
		slog.Any("nc", a.nc),
	)
}

func md5Hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}
