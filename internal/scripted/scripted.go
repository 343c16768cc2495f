// Package scripted loads compiled WebAssembly handler modules through
// tetratelabs/wazero and wraps each instance behind the ordinary
// job.Handler contract, so a scripted command is indistinguishable from a
// native Go one once installed in the job table.
//
// The host/guest boundary is deliberately narrow: a handler module
// exports three functions and nothing else is required of it.
//
//	alloc(size: i32) -> i32               // optional; omit for stateless handlers
//	init() -> i64                         // packed (ptr<<32 | len) of the seed CoAP request
//	handle(ptr: i32, len: i32) -> i64      // packed pointer/len of the next request, or 0 if done
//	is_finished() -> i32                  // nonzero once the handler has nothing further to send
//
// Two further exports are optional and checked for at load time:
//
//	display(ptr: i32, len: i32) -> i64     // renders the just-delivered response as text
//	export() -> i64                        // returns the handler's binary export payload
//
// The packed-i64 convention (high 32 bits pointer, low 32 bits length) is
// the same trick used by most minimal wazero guest ABIs: it lets a guest
// return a variable-length buffer without an extra host import for the
// length. display and export follow the same packing on their return
// value; display additionally receives the response bytes as ptr/len
// input because most handlers need to read what arrived before rendering
// it, while export reads back whatever the guest already buffered
// internally.
package scripted

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"github.com/basket/slipterm/internal/coap"
)

// DefaultMemoryLimitPages caps a single handler module at 10MB (160
// pages of 64KB each), well past what any CoAP request/response pair
// needs.
const DefaultMemoryLimitPages = 160

// DefaultInvokeTimeout bounds a single init/handle/is_finished call.
const DefaultInvokeTimeout = 5 * time.Second

// Config controls the runtime every loaded module shares.
type Config struct {
	MemoryLimitPages uint32
	InvokeTimeout    time.Duration
}

// Host owns the wazero runtime that compiles and instantiates handler
// modules. One Host can load many modules; each Load call produces an
// independent instance so two running handlers never share memory.
type Host struct {
	runtime       wazero.Runtime
	invokeTimeout time.Duration
}

// NewHost builds a wazero runtime with the given memory ceiling.
func NewHost(ctx context.Context, cfg Config) (*Host, error) {
	memPages := cfg.MemoryLimitPages
	if memPages == 0 {
		memPages = DefaultMemoryLimitPages
	}
	invokeTimeout := cfg.InvokeTimeout
	if invokeTimeout == 0 {
		invokeTimeout = DefaultInvokeTimeout
	}

	runtimeCfg := wazero.NewRuntimeConfig().
		WithMemoryLimitPages(memPages).
		WithCloseOnContextDone(true)
	rt := wazero.NewRuntimeWithConfig(ctx, runtimeCfg)

	return &Host{runtime: rt, invokeTimeout: invokeTimeout}, nil
}

// Close tears down the runtime and every module instantiated from it.
func (h *Host) Close(ctx context.Context) error {
	return h.runtime.Close(ctx)
}

// Load compiles wasmBytes and instantiates a fresh module instance,
// checking that the required exports are present. handle is optional: a
// module exporting none is a single-shot handler that sends its init
// request and is immediately finished, never hanging waiting for a
// handle call that doesn't exist.
func (h *Host) Load(ctx context.Context, name string, wasmBytes []byte) (*Module, error) {
	compiled, err := h.runtime.CompileModule(ctx, wasmBytes)
	if err != nil {
		return nil, fmt.Errorf("scripted: compile module %s: %w", name, err)
	}
	instance, err := h.runtime.InstantiateModule(ctx, compiled, wazero.NewModuleConfig().WithName(name))
	if err != nil {
		return nil, fmt.Errorf("scripted: instantiate module %s: %w", name, err)
	}

	m := &Module{
		name:          name,
		instance:      instance,
		initFn:        instance.ExportedFunction("init"),
		handleFn:      instance.ExportedFunction("handle"),
		isFinishedFn:  instance.ExportedFunction("is_finished"),
		displayFn:     instance.ExportedFunction("display"),
		exportFn:      instance.ExportedFunction("export"),
		allocFn:       instance.ExportedFunction("alloc"),
		invokeTimeout: h.invokeTimeout,
	}
	if m.initFn == nil || m.isFinishedFn == nil {
		instance.Close(ctx)
		return nil, fmt.Errorf("scripted: module %s missing one of the required exports init/is_finished", name)
	}
	return m, nil
}

// Module is a loaded handler module, kept around so NewHandler can be
// called once per job that reuses it (a scripted command's Parse
// callback calls NewHandler for every invocation; the compiled module
// itself is cached by the registry, not reloaded per job).
type Module struct {
	name     string
	instance api.Module

	initFn       api.Function
	handleFn     api.Function
	isFinishedFn api.Function
	displayFn    api.Function
	exportFn     api.Function
	allocFn      api.Function

	invokeTimeout time.Duration
}

// Close releases the module instance and its linear memory.
func (m *Module) Close(ctx context.Context) error {
	return m.instance.Close(ctx)
}

// NewHandler returns a job.Handler-shaped wrapper around this module
// instance. A Module backs exactly one Handler at a time: calling
// NewHandler twice on the same Module would have both handlers sharing
// memory and is the caller's mistake to avoid.
func (m *Module) NewHandler() *Handler {
	return &Handler{module: m}
}

// Handler adapts a scripted Module to job.Handler.
type Handler struct {
	module *Module
}

func (h *Handler) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, h.module.invokeTimeout)
}

// Init calls the guest's init export and decodes the packed result as a
// CoAP message.
func (h *Handler) Init() coap.Message {
	ctx, cancel := h.callCtx(context.Background())
	defer cancel()

	results, err := h.module.initFn.Call(ctx)
	if err != nil || len(results) == 0 {
		return coap.Message{}
	}
	data, ok := readPacked(h.module.instance, results[0])
	if !ok {
		return coap.Message{}
	}
	msg, err := coap.Decode(data)
	if err != nil {
		return coap.Message{}
	}
	return msg
}

// Handle encodes resp, writes it into guest memory via alloc, and calls
// the guest's handle export. A packed result of 0 means the guest has
// nothing further to send. A module exporting no handle function at all
// is treated as already finished: its init response is the only thing
// it ever sends.
func (h *Handler) Handle(resp coap.Message) (coap.Message, bool) {
	if h.module.handleFn == nil {
		return coap.Message{}, false
	}

	encoded, err := coap.Encode(resp)
	if err != nil {
		return coap.Message{}, false
	}

	ctx, cancel := h.callCtx(context.Background())
	defer cancel()

	ptr, ok := h.writeGuestBuffer(ctx, encoded)
	if !ok {
		return coap.Message{}, false
	}

	results, err := h.module.handleFn.Call(ctx, uint64(ptr), uint64(len(encoded)))
	if err != nil || len(results) == 0 || results[0] == 0 {
		return coap.Message{}, false
	}
	data, ok := readPacked(h.module.instance, results[0])
	if !ok {
		return coap.Message{}, false
	}
	next, err := coap.Decode(data)
	if err != nil {
		return coap.Message{}, false
	}
	return next, true
}

// WantDisplay reports whether the guest exports a display function.
func (h *Handler) WantDisplay() bool {
	return h.module.displayFn != nil
}

// IsFinished calls the guest's is_finished export.
func (h *Handler) IsFinished() bool {
	ctx, cancel := h.callCtx(context.Background())
	defer cancel()

	results, err := h.module.isFinishedFn.Call(ctx)
	if err != nil || len(results) == 0 {
		return true
	}
	return int32(results[0]) != 0
}

// Display calls the guest's display export, if present, and writes its
// text result to sink.
func (h *Handler) Display(sink io.Writer) {
	if h.module.displayFn == nil {
		return
	}
	ctx, cancel := h.callCtx(context.Background())
	defer cancel()

	results, err := h.module.displayFn.Call(ctx)
	if err != nil || len(results) == 0 {
		return
	}
	data, ok := readPacked(h.module.instance, results[0])
	if !ok {
		return
	}
	sink.Write(data)
}

// Export calls the guest's export export, if present, returning its
// binary payload; handlers without one export nothing.
func (h *Handler) Export() []byte {
	if h.module.exportFn == nil {
		return nil
	}
	ctx, cancel := h.callCtx(context.Background())
	defer cancel()

	results, err := h.module.exportFn.Call(ctx)
	if err != nil || len(results) == 0 {
		return nil
	}
	data, _ := readPacked(h.module.instance, results[0])
	return data
}

// writeGuestBuffer asks the guest to allocate len(data) bytes and writes
// data into the returned region. Modules without an alloc export cannot
// receive response bytes; handle is still called with ptr=0,len=0 in
// that case so stateless handlers (those that never read resp) keep
// working.
func (h *Handler) writeGuestBuffer(ctx context.Context, data []byte) (uint32, bool) {
	if h.module.allocFn == nil || len(data) == 0 {
		return 0, true
	}
	results, err := h.module.allocFn.Call(ctx, uint64(len(data)))
	if err != nil || len(results) == 0 {
		return 0, false
	}
	ptr := uint32(results[0])
	if !h.module.instance.Memory().Write(ptr, data) {
		return 0, false
	}
	return ptr, true
}

// readPacked unpacks a (ptr<<32 | len) result and reads that region of
// guest memory.
func readPacked(mod api.Module, packed uint64) ([]byte, bool) {
	ptr := uint32(packed >> 32)
	length := uint32(packed)
	if length == 0 {
		return nil, true
	}
	return mod.Memory().Read(ptr, length)
}
