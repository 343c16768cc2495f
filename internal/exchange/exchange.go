// Package exchange implements the CoAP exchange engine: it owns
// outbound request bookkeeping (token/message-id
// allocation, Block2 hints, CoAP log recording) and the inbound
// routing policy that matches responses to the job table or the CoAP
// log, or else files them as spontaneous. It also carries the endpoint
// discovery side effect of a /.well-known/core response and the device
// metadata updates from /riot/board and /riot/ver.
package exchange

import (
	"strings"
	"time"

	"github.com/basket/slipterm/internal/coap"
	"github.com/basket/slipterm/internal/coaplog"
	"github.com/basket/slipterm/internal/command"
	"github.com/basket/slipterm/internal/corelink"
	"github.com/basket/slipterm/internal/job"
	"github.com/basket/slipterm/internal/slipmux"
)

// Metadata holds the device-identity fields the status panel shows,
// refreshed from /riot/board and /riot/ver responses.
type Metadata struct {
	Board   string
	Version string
}

// Engine is the policy glue between the CoAP log, the job table, and
// the command registry. It is driven entirely from the event loop
// goroutine: no method here is safe to call concurrently with another.
type Engine struct {
	Log      *coaplog.Log
	Jobs     *job.Table
	Registry *command.Registry
	Metadata Metadata

	tokens *coap.TokenGenerator
	mids   *coap.MessageIDGenerator

	// Send is invoked with the encoded Slipmux frame for every
	// outbound request; the caller wires this to the transport writer.
	Send func(slipmux.Frame)

	// Now is swappable for deterministic tests; defaults to time.Now.
	Now func() time.Time

	// OnIssue and OnMatch are optional observability hooks, called after
	// every outbound request and every matched response respectively.
	// Nil is a valid no-op value, same convention as Send.
	OnIssue func(coap.Message)
	OnMatch func()
}

// New returns an Engine wired to the given log, job table, and
// registry. send is called with every outbound Configuration frame.
func New(log *coaplog.Log, jobs *job.Table, registry *command.Registry, send func(slipmux.Frame)) *Engine {
	return &Engine{
		Log:      log,
		Jobs:     jobs,
		Registry: registry,
		tokens:   coap.NewTokenGenerator(),
		mids:     coap.NewMessageIDGenerator(),
		Send:     send,
		Now:      time.Now,
	}
}

// IssueRequest allocates a token and message-id for msg, records it in
// the CoAP log, and forwards the encoded frame to the writer. It
// returns the token digest the caller should key the job table under
// (callers that aren't starting a job — plain observer GETs — may
// ignore the digest).
func (e *Engine) IssueRequest(msg coap.Message) (coap.Message, uint64) {
	msg.Token = e.tokens.Next()
	msg.MessageID = e.mids.Next()

	digest := coap.TokenDigest(msg.Token)
	e.Log.Append(msg, e.Now())
	e.transmit(msg)
	if e.OnIssue != nil {
		e.OnIssue(msg)
	}
	return msg, digest
}

// StartJob issues a handler's seed request and installs it in the job
// table under the resulting token.
func (e *Engine) StartJob(j *job.Job) {
	seed := j.Handler.Init()
	msg, digest := e.IssueRequest(seed)
	_ = msg
	e.Jobs.Insert(digest, j)
}

func (e *Engine) transmit(msg coap.Message) {
	encoded, err := coap.Encode(msg)
	if err != nil {
		// Protocol error on our own outbound message: nothing sane to
		// retry with, so it's dropped after logging; the caller already
		// has the request recorded in the CoAP log for visibility.
		return
	}
	if e.Send != nil {
		e.Send(slipmux.NewConfiguration(encoded))
	}
}

// HandleConfiguration processes one inbound Configuration frame's
// payload: decodes the CoAP message, routes it to the job table and/or
// CoAP log, and runs the endpoint-discovery and device-metadata side
// effects. It returns an error only for malformed CoAP bytes — a
// protocol error, logged by the caller, never fatal.
func (e *Engine) HandleConfiguration(data []byte) error {
	msg, err := coap.Decode(data)
	if err != nil {
		return err
	}
	now := e.Now()
	digest := coap.TokenDigest(msg.Token)

	if j, ok := e.Jobs.Lookup(digest); ok {
		e.driveJob(digest, j, msg, now)
	}

	matched := e.Log.Match(digest, msg, now)
	if matched {
		if e.OnMatch != nil {
			e.OnMatch()
		}
		e.applySideEffects(digest, msg)
	}
	if !matched {
		if _, stillInJobs := e.Jobs.Lookup(digest); !stillInJobs {
			e.Log.RecordSpontaneous(msg, now)
		}
	}
	return nil
}

func (e *Engine) driveJob(digest uint64, j *job.Job, resp coap.Message, now time.Time) {
	next, ok := j.Handler.Handle(resp)
	if ok {
		issued, newDigest := e.IssueRequest(next)
		_ = issued
		e.Jobs.Rekey(digest, newDigest, j)
		return
	}
	if j.Handler.IsFinished() {
		e.Jobs.Finalize(digest, j, now)
	}
}

// applySideEffects updates endpoint inventory / device metadata based
// on which request path this response answers, found by looking up the
// matching CoAP log entry's original request.
func (e *Engine) applySideEffects(digest uint64, resp coap.Message) {
	req, ok := e.findRequestByDigest(digest)
	if !ok {
		return
	}
	switch req.Message.Path() {
	case "/riot/board":
		e.Metadata.Board = string(resp.Payload)
	case "/riot/ver":
		e.Metadata.Version = string(resp.Payload)
	case "/.well-known/core":
		e.onWellKnownCore(resp)
	default:
		if strings.HasPrefix(req.Message.Path(), "/shell/") {
			e.updateShellDescription(req.Message.Path(), resp)
		}
	}
}

func (e *Engine) findRequestByDigest(digest uint64) (*coaplog.Request, bool) {
	for _, r := range e.Log.Requests() {
		if r.TokenDigest == digest {
			return r, true
		}
	}
	return nil, false
}

func (e *Engine) updateShellDescription(path string, resp coap.Message) {
	desc := string(resp.Payload)
	suffix := strings.TrimPrefix(path, "/shell/")
	if d, ok := e.Registry.Lookup(suffix); ok {
		d.Description = desc
	}
	if d, ok := e.Registry.Lookup(path); ok {
		d.Description = desc
	}
}

// onWellKnownCore parses the CoRE Link Format body, folds local paths
// into the endpoint inventory, synthesizes command descriptors for new
// paths, and (for /shell/ paths) issues an auxiliary GET to fetch the
// command's human description.
func (e *Engine) onWellKnownCore(resp coap.Message) {
	for _, link := range corelink.Parse(string(resp.Payload)) {
		if !link.IsLocalPath() {
			continue
		}
		path := link.Target
		e.Registry.UpdateInventory(path)

		if _, known := e.Registry.LookupByEndpoint(path); known {
			continue
		}

		if strings.HasPrefix(path, "/shell/") {
			e.registerShellShortcut(path)
			e.registerCoAPResource(path, "A CoAP resource describing a RIOT shell command")
			e.IssueRequest(coap.NewGetRequest(path))
		} else {
			e.registerCoAPResource(path, "A CoAP resource")
		}
	}
}

func (e *Engine) registerShellShortcut(path string) {
	suffix := strings.TrimPrefix(path, "/shell/")
	e.Registry.Register(&command.Descriptor{
		Name:              suffix,
		Description:       "A RIOT shell command",
		RequiredEndpoints: []string{path},
		Parse: func(args string) (command.Outcome, error) {
			line := suffix
			if args != "" {
				line = suffix + " " + args
			}
			return command.Outcome{Kind: command.OutcomeText, Text: line}, nil
		},
	})
}

func (e *Engine) registerCoAPResource(path, description string) {
	e.Registry.Register(&command.Descriptor{
		Name:              path,
		Description:       description,
		RequiredEndpoints: []string{path},
		Parse: func(args string) (command.Outcome, error) {
			return command.Outcome{Kind: command.OutcomeCoAP, Handler: &job.SimpleGet{Path: path}}, nil
		},
	})
}
