package sip

import "time"

// ResponseTo renders a response to a request captured from the wire.
// An empty toTag keeps the To header of the request as is for 100 and adds
// a random tag otherwise.
func ResponseTo(req *IncomingRequest, code int, toTag string, extra []string, body []byte) []byte {
	if toTag != "" {
		req.localTag = toTag
	}
	return []byte(req.buildResponse(code, "", extra, body))
}

// GlareRetryDelay exposes the random retry delay after a 491 response.
func GlareRetryDelay(role DialogRole) time.Duration { return glareRetryDelay(role) }
