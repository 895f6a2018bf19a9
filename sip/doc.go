// Package sip implements the signaling core of a SIP user agent (RFC 3261)
// running over a message oriented transport such as WebSocket.
//
// [Parse] turns received data into [*IncomingRequest] or [*IncomingResponse].
// The [Engine] feeds them through the sanity checks and the [TransactionLayer]
// to dialogs and request handlers. Outgoing requests are built with
// [Engine.NewRequest] or [Dialog.CreateRequest] and sent by a [RequestSender],
// which answers digest challenges once.
//
// The engine runs every event, including timer expiry, under a single executor.
// Callbacks receive a context marked by it and may call back into the engine
// with that context.
package sip
