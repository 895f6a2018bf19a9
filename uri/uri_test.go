package uri_test

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/ghettovoice/sipcore/uri"
)

func TestParse(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want *uri.URI
	}{
		{
			"sip:alice@atlanta.com",
			&uri.URI{Scheme: "sip", User: "alice", Host: "atlanta.com"},
		},
		{
			"SIPS:bob:secret@biloxi.com:5061;transport=tcp;lr?subject=project",
			&uri.URI{
				Scheme:      "sips",
				User:        "bob",
				Password:    "secret",
				HasPassword: true,
				Host:        "biloxi.com",
				Port:        5061,
				Params:      uri.Params{{Name: "transport", Value: "tcp", HasValue: true}, {Name: "lr"}},
				Headers:     "subject=project",
			},
		},
		{
			"sip:[2001:db8::1]:5060",
			&uri.URI{Scheme: "sip", Host: "[2001:db8::1]", Port: 5060},
		},
		{
			"sip:+1-212-555-1212;phone-context=example.com@gw.example.com;user=phone",
			&uri.URI{
				Scheme: "sip",
				User:   "+1-212-555-1212;phone-context=example.com",
				Host:   "gw.example.com",
				Params: uri.Params{{Name: "user", Value: "phone", HasValue: true}},
			},
		},
		{
			"tel:+1-201-555-0123",
			&uri.URI{Scheme: "tel", Opaque: "+1-201-555-0123"},
		},
	}
	for _, c := range cases {
		t.Run(c.in, func(t *testing.T) {
			t.Parallel()

			got, err := uri.Parse(c.in)
			if err != nil {
				t.Fatalf("uri.Parse(%q) error = %v, want nil", c.in, err)
			}
			if diff := cmp.Diff(c.want, got); diff != "" {
				t.Fatalf("uri.Parse(%q) mismatch (-want +got):\n%s", c.in, diff)
			}
		})
	}
}

func TestParse_Invalid(t *testing.T) {
	t.Parallel()

	for _, in := range []string{
		"",
		"alice@atlanta.com",
		"sip:",
		"sip:alice@",
		"sip:@atlanta.com",
		"sip:alice@atlanta.com:port",
		"sip:alice@atlanta.com:99999",
		"sip:alice@[::1",
		"sip:alice@atlanta.com;=x",
		"sip:ali ce@atlanta.com",
		"1sip:alice@atlanta.com",
	} {
		if _, err := uri.Parse(in); !errors.Is(err, uri.ErrInvalidURI) {
			t.Errorf("uri.Parse(%q) error = %v, want %v", in, err, uri.ErrInvalidURI)
		}
	}
}

func TestURI_String(t *testing.T) {
	t.Parallel()

	for _, in := range []string{
		"sip:alice@atlanta.com",
		"sips:bob:secret@biloxi.com:5061;transport=tcp;lr?subject=project",
		"sip:[2001:db8::1]:5060",
		"sip:proxy.example.com;lr",
		"tel:+1-201-555-0123",
	} {
		if got := uri.MustParse(in).String(); got != in {
			t.Errorf("uri.MustParse(%q).String() = %q, want %q", in, got, in)
		}
	}
}

func TestURI_Equal(t *testing.T) {
	t.Parallel()

	a := uri.MustParse("sip:alice@Atlanta.COM;transport=ws")
	b := uri.MustParse("SIP:alice@atlanta.com;transport=ws")
	if !a.Equal(b) {
		t.Fatalf("%v.Equal(%v) = false, want true", a, b)
	}
	if c := uri.MustParse("sip:Alice@atlanta.com;transport=ws"); a.Equal(c) {
		t.Fatalf("%v.Equal(%v) = true, want false", a, c)
	}
	clone := a.Clone()
	clone.Params.Set("transport", "udp")
	if v, _ := a.Params.Get("transport"); v != "ws" {
		t.Fatalf("clone modified original params: %q", v)
	}
}

func TestParams(t *testing.T) {
	t.Parallel()

	ps, err := uri.ParseParams(`;tag=abc ; received="a;b\"c";lr`)
	if err != nil {
		t.Fatalf("uri.ParseParams() error = %v, want nil", err)
	}
	if v, ok := ps.Get("TAG"); !ok || v != "abc" {
		t.Fatalf(`ps.Get("TAG") = %q, %v, want "abc", true`, v, ok)
	}
	if v, _ := ps.Get("received"); v != `a;b"c` {
		t.Fatalf(`ps.Get("received") = %q, want %q`, v, `a;b"c`)
	}
	if !ps.Has("lr") {
		t.Fatal(`ps.Has("lr") = false, want true`)
	}

	ps.Del("received")
	ps.Set("tag", "xyz")
	ps.SetFlag("ob")
	if got, want := ps.String(), ";tag=xyz;lr;ob"; got != want {
		t.Fatalf("ps.String() = %q, want %q", got, want)
	}

	if got, want := uri.Quote(`a"b`), `"a\"b"`; got != want {
		t.Fatalf("uri.Quote() = %q, want %q", got, want)
	}
}
