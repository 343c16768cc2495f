// Package coaplog implements the append-only CoAP request/response log:
// one record per issued request, in issue order,
// gaining response records as matching replies arrive. It never mutates
// a request once appended except to append responses under it.
package coaplog

import (
	"time"

	"github.com/basket/slipterm/internal/coap"
)

// Response is one reply attached to a request record.
type Response struct {
	TimeReceived time.Time
	Message      coap.Message
}

// Request is one outbound CoAP request and every response matched to
// it over the life of the session.
type Request struct {
	TimeSent    time.Time
	Message     coap.Message
	TokenDigest uint64
	Responses   []Response
}

// Log is the append-only, order-preserving sequence of Requests, plus a
// lookup index by token digest and a bucket for responses that matched
// neither the job table nor any logged request ("spontaneous"
// responses).
type Log struct {
	requests    []*Request
	byToken     map[uint64]*Request
	spontaneous []Response
}

// New returns an empty Log.
func New() *Log {
	return &Log{byToken: make(map[uint64]*Request)}
}

// Append records a newly issued request. Ordering invariant: requests
// appear in the log in the order they were issued.
func (l *Log) Append(msg coap.Message, sentAt time.Time) *Request {
	digest := coap.TokenDigest(msg.Token)
	req := &Request{TimeSent: sentAt, Message: msg, TokenDigest: digest}
	l.requests = append(l.requests, req)
	l.byToken[digest] = req
	return req
}

// Rekey updates the lookup index when a request's token changes (a
// handler's follow-up request reuses the same log entry under a new
// token digest, so observer displays that look up by the latest token
// still find it).
func (l *Log) Rekey(oldDigest, newDigest uint64, req *Request) {
	delete(l.byToken, oldDigest)
	req.TokenDigest = newDigest
	l.byToken[newDigest] = req
}

// Match attaches a response to the request with the given token
// digest, if one exists, and reports whether it found one.
func (l *Log) Match(digest uint64, msg coap.Message, receivedAt time.Time) bool {
	req, ok := l.byToken[digest]
	if !ok {
		return false
	}
	req.Responses = append(req.Responses, Response{TimeReceived: receivedAt, Message: msg})
	return true
}

// RecordSpontaneous appends a response that matched no known request.
func (l *Log) RecordSpontaneous(msg coap.Message, receivedAt time.Time) {
	l.spontaneous = append(l.spontaneous, Response{TimeReceived: receivedAt, Message: msg})
}

// Requests returns every logged request, in issue order.
func (l *Log) Requests() []*Request {
	return l.requests
}

// Spontaneous returns every response that never matched a request.
func (l *Log) Spontaneous() []Response {
	return l.spontaneous
}
