package digest_test

import (
	"crypto/md5"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ghettovoice/sipcore/digest"
	"github.com/ghettovoice/sipcore/header"
)

func md5Hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

func TestAuthenticator_NoQop(t *testing.T) {
	t.Parallel()

	a := digest.New(digest.Credentials{Username: "alice", Password: "secret"})
	ch := &header.Challenge{Scheme: "Digest", Realm: "test", Nonce: "abc"}

	require.NoError(t, a.Authenticate("REGISTER", "sip:example.com", nil, ch, "c0ffee"))

	ha1 := md5Hex("alice:test:secret")
	ha2 := md5Hex("REGISTER:sip:example.com")
	want := md5Hex(ha1 + ":abc:" + ha2)
	assert.Equal(t, want, a.Response())
	assert.Equal(t, ha1, a.HA1())
	assert.Equal(t, "test", a.Realm())
	assert.Equal(t, uint32(0), a.NonceCount())
	assert.Equal(t,
		`Digest algorithm=MD5, username="alice", realm="test", nonce="abc", uri="sip:example.com", response="`+want+`"`,
		a.String(),
	)
}

func TestAuthenticator_QopAuth(t *testing.T) {
	t.Parallel()

	a := digest.New(digest.Credentials{Username: "bob", Password: "zanzibar"})
	ch := &header.Challenge{
		Scheme: "Digest",
		Realm:  "biloxi.com",
		Nonce:  "dcd98b7102dd2f0e8b11d0f600bfb0c093",
		Opaque: "5ccc069c403ebaf9f0171e9517f40e41",
		Qop:    []string{"auth"},
	}
	require.NoError(t, a.Authenticate("INVITE", "sip:bob@biloxi.com", nil, ch, "0a4f113b"))

	ha1 := md5Hex("bob:biloxi.com:zanzibar")
	ha2 := md5Hex("INVITE:sip:bob@biloxi.com")
	want := md5Hex(ha1 + ":dcd98b7102dd2f0e8b11d0f600bfb0c093:00000001:0a4f113b:auth:" + ha2)
	hdr, err := a.Header()
	require.NoError(t, err)
	assert.Equal(t,
		`Digest algorithm=MD5, username="bob", realm="biloxi.com", nonce="dcd98b7102dd2f0e8b11d0f600bfb0c093", `+
			`uri="sip:bob@biloxi.com", response="`+want+`", opaque="5ccc069c403ebaf9f0171e9517f40e41", `+
			`qop=auth, cnonce="0a4f113b", nc=00000001`,
		hdr,
	)

	require.NoError(t, a.Authenticate("INVITE", "sip:bob@biloxi.com", nil, ch, "0a4f113b"))
	assert.Equal(t, uint32(2), a.NonceCount())
}

func TestAuthenticator_QopAuthInt(t *testing.T) {
	t.Parallel()

	a := digest.New(digest.Credentials{Username: "bob", Password: "zanzibar"})
	ch := &header.Challenge{Realm: "r", Nonce: "n", Qop: []string{"auth", "auth-int"}}
	body := []byte("v=0\r\n")
	require.NoError(t, a.Authenticate("INVITE", "sip:x@y", body, ch, "cn"))

	ha1 := md5Hex("bob:r:zanzibar")
	ha2 := md5Hex("INVITE:sip:x@y:" + md5Hex(string(body)))
	assert.Equal(t, md5Hex(ha1+":n:00000001:cn:auth-int:"+ha2), a.Response())
	assert.Contains(t, a.String(), "qop=auth-int")
}

func TestAuthenticator_HA1(t *testing.T) {
	t.Parallel()

	ha1 := md5Hex("carol:home:pass")
	a := digest.New(digest.Credentials{Username: "carol", Realm: "home", HA1: ha1})
	require.NoError(t, a.Authenticate("BYE", "sip:x@y", nil, &header.Challenge{Realm: "home", Nonce: "n"}, "cn"))
	assert.Equal(t, md5Hex(ha1+":n:"+md5Hex("BYE:sip:x@y")), a.Response())

	err := a.Authenticate("BYE", "sip:x@y", nil, &header.Challenge{Realm: "other", Nonce: "n"}, "cn")
	require.ErrorIs(t, err, digest.ErrRealmMismatch)
}

func TestAuthenticator_NonceCountWrap(t *testing.T) {
	t.Parallel()

	a := digest.New(digest.Credentials{Username: "u", Password: "p"})
	a.SetNonceCount(0xFFFFFFFF)
	require.NoError(t, a.Authenticate("REGISTER", "sip:r", nil, &header.Challenge{Realm: "r", Nonce: "n", Qop: []string{"auth"}}, "cn"))
	assert.Equal(t, uint32(1), a.NonceCount())
	assert.Contains(t, a.String(), "nc=00000001")
}

func TestAuthenticator_Errors(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name  string
		creds digest.Credentials
		ch    *header.Challenge
		want  error
	}{
		{"algorithm", digest.Credentials{Password: "p"}, &header.Challenge{Realm: "r", Nonce: "n", Algorithm: "SHA-256"}, digest.ErrUnsupportedAlgorithm},
		{"nonce", digest.Credentials{Password: "p"}, &header.Challenge{Realm: "r"}, digest.ErrMissingNonce},
		{"realm", digest.Credentials{Password: "p"}, &header.Challenge{Nonce: "n"}, digest.ErrMissingRealm},
		{"qop", digest.Credentials{Password: "p"}, &header.Challenge{Realm: "r", Nonce: "n", Qop: []string{"auth-conf"}}, digest.ErrUnsupportedQop},
		{"credentials", digest.Credentials{Username: "u"}, &header.Challenge{Realm: "r", Nonce: "n"}, digest.ErrNoCredentials},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()

			a := digest.New(c.creds)
			require.ErrorIs(t, a.Authenticate("REGISTER", "sip:r", nil, c.ch, ""), c.want)
			_, err := a.Header()
			require.ErrorIs(t, err, digest.ErrNotAuthenticated)
			assert.Empty(t, a.String())
		})
	}
}
