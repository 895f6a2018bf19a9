// Package uri implements SIP and SIPS URIs as defined in RFC 3261 Section 19.1.
// URIs of other schemes (tel, urn, ...) are kept opaque.
package uri
