// Package coap wraps the subset of RFC 7252 message handling slipterm
// needs: building outbound request messages, decoding inbound response
// bytes, and the token bookkeeping the exchange engine uses to correlate
// them. Wire (de)serialization is delegated to plgd-dev/go-coap/v3 — this
// package never hand-rolls CoAP bit-packing.
package coap

import (
	"fmt"
	"math/rand"
	"strings"
	"sync"

	coapmessage "github.com/plgd-dev/go-coap/v3/message"
	coapcodes "github.com/plgd-dev/go-coap/v3/message/codes"
	"github.com/plgd-dev/go-coap/v3/udp/coder"
)

// Message is the decoded/encodable form slipterm operates on: code,
// token, options, content-format, payload.
type Message struct {
	Code      coapcodes.Code
	MessageID uint16
	Token     []byte
	Options   coapmessage.Options
	Payload   []byte
}

// Block2RequestSizeHint is the Block2 option slipterm attaches to
// outbound GETs, requesting 128-byte blocks (size exponent 0x05).
var Block2RequestSizeHint = []byte{0x05}

// Path returns the concatenated URI-Path option values, e.g. "/riot/board".
func (m Message) Path() string {
	path := ""
	for _, opt := range m.Options {
		if opt.ID == coapmessage.URIPath {
			path += "/" + string(opt.Value)
		}
	}
	return path
}

// ContentFormat returns the Content-Format option value, if present.
func (m Message) ContentFormat() (coapmessage.MediaType, bool) {
	for _, opt := range m.Options {
		if opt.ID == coapmessage.ContentFormat {
			if len(opt.Value) == 1 {
				return coapmessage.MediaType(opt.Value[0]), true
			}
			return coapmessage.MediaType(0), true
		}
	}
	return 0, false
}

// Encode marshals a Message into RFC 7252 wire bytes, suitable for
// wrapping in a Slipmux Configuration frame.
func Encode(m Message) ([]byte, error) {
	msg := coapmessage.Message{
		Code:    m.Code,
		Token:   m.Token,
		Options: m.Options,
		Payload: m.Payload,
	}
	buf := make([]byte, 1500)
	n, err := coder.DefaultCoder.Encode(msg, buf)
	if err != nil {
		return nil, fmt.Errorf("coap: encode: %w", err)
	}
	return buf[:n], nil
}

// Decode parses RFC 7252 wire bytes (the payload of a Slipmux
// Configuration frame) into a Message. A malformed message is a
// protocol error: callers log it and move on, never
// treating it as fatal to the exchange engine.
func Decode(data []byte) (Message, error) {
	var msg coapmessage.Message
	_, err := coder.DefaultCoder.Decode(data, &msg)
	if err != nil {
		return Message{}, fmt.Errorf("coap: decode: %w", err)
	}
	return Message{
		Code:    msg.Code,
		Token:   append([]byte(nil), msg.Token...),
		Options: msg.Options,
		Payload: append([]byte(nil), msg.Payload...),
	}, nil
}

// TokenGenerator produces 2-byte tokens from a monotonically
// incrementing 16-bit counter, serialized little-endian
// The counter wraps at 65536; collisions are avoided in practice
// because the wrap period far exceeds any realistic in-flight request
// count.
type TokenGenerator struct {
	mu      sync.Mutex
	counter uint16
}

// NewTokenGenerator seeds the counter at a random starting point
// (matching the message-id generator below), so a process restart
// doesn't produce identical tokens against a long-lived device log.
func NewTokenGenerator() *TokenGenerator {
	return &TokenGenerator{counter: uint16(rand.Intn(1 << 16))}
}

// Next returns the next token as 2 little-endian bytes.
func (g *TokenGenerator) Next() []byte {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.counter++
	return []byte{byte(g.counter), byte(g.counter >> 8)}
}

// MessageIDGenerator produces the message-id field attached to every
// outbound message.
type MessageIDGenerator struct {
	mu      sync.Mutex
	counter uint16
}

func NewMessageIDGenerator() *MessageIDGenerator {
	return &MessageIDGenerator{counter: uint16(rand.Intn(1 << 16))}
}

func (g *MessageIDGenerator) Next() uint16 {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.counter++
	return g.counter
}

// TokenDigest computes the stable per-token fingerprint used to key the
// job table and the CoAP log: the arithmetic sum of the
// token's bytes, saturated to u64 max for tokens longer than 8 bytes.
func TokenDigest(token []byte) uint64 {
	if len(token) > 8 {
		return ^uint64(0)
	}
	var sum uint64
	for _, b := range token {
		sum += uint64(b)
	}
	return sum
}

// NewGetRequest builds a confirmable-style GET request message for the
// given path. Token and message-id are attached by the caller (the
// exchange engine owns those counters); this only fills in code,
// options, and the Block2 size hint outbound GETs carry.
//
// Per RFC 7252 §5.10.1, a multi-segment path is one Uri-Path option per
// segment, not one option holding the whole path — Path() above decodes
// on that assumption, so encoding has to match it.
func NewGetRequest(path string) Message {
	opts := coapmessage.Options{}
	for _, segment := range strings.Split(path, "/") {
		if segment == "" {
			continue
		}
		opts = opts.Add(coapmessage.Option{ID: coapmessage.URIPath, Value: []byte(segment)})
	}
	opts = opts.Add(coapmessage.Option{ID: coapmessage.Block2, Value: Block2RequestSizeHint})
	return Message{
		Code:    coapcodes.GET,
		Options: opts,
	}
}
