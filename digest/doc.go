// Package digest implements the client side of RFC 2617 Digest access authentication
// as used by SIP user agents answering 401 and 407 challenges.
package digest
