package job

import (
	"io"

	"github.com/basket/slipterm/internal/coap"
)

// SimpleGet is the Handler for a bare CoAP GET against a known resource
// path: one request, one response, nothing further to send. It backs
// commands synthesized from endpoint discovery that have no dedicated
// handler of their own.
type SimpleGet struct {
	Path     string
	response []byte
	done     bool
}

func (h *SimpleGet) Init() coap.Message { return coap.NewGetRequest(h.Path) }

func (h *SimpleGet) Handle(resp coap.Message) (coap.Message, bool) {
	h.response = resp.Payload
	h.done = true
	return coap.Message{}, false
}

func (h *SimpleGet) WantDisplay() bool { return true }
func (h *SimpleGet) IsFinished() bool  { return h.done }

func (h *SimpleGet) Display(sink io.Writer) {
	sink.Write(h.response)
}

func (h *SimpleGet) Export() []byte { return h.response }
