// Package header implements the grammars of the SIP header fields the engine
// dereferences: addresses, Via, CSeq, authentication challenges, Content-Type,
// Session-Expires, Replaces, Event and the simple scalar headers.
//
// All parsers work on a single header field value, i.e. one element of a
// comma separated list (see [SplitValues]).
package header
