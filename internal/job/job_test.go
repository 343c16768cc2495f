package job_test

import (
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/basket/slipterm/internal/coap"
	"github.com/basket/slipterm/internal/job"
)

// stepHandler is a fake handler that issues a fixed number of follow-up
// requests before finishing, modeling a multi-step shell command handler.
type stepHandler struct {
	remaining int
	rendered  string
}

func (h *stepHandler) Init() coap.Message { return coap.NewGetRequest("/a") }

func (h *stepHandler) Handle(resp coap.Message) (coap.Message, bool) {
	if h.remaining == 0 {
		return coap.Message{}, false
	}
	h.remaining--
	return coap.NewGetRequest("/next"), true
}

func (h *stepHandler) WantDisplay() bool { return true }
func (h *stepHandler) IsFinished() bool  { return h.remaining == 0 }
func (h *stepHandler) Display(sink io.Writer) {
	io.WriteString(sink, h.rendered)
}
func (h *stepHandler) Export() []byte { return []byte(h.rendered) }

func TestMultiStepHandlerRekeysAndFinalizes(t *testing.T) {
	tbl := job.NewTable()
	h := &stepHandler{remaining: 2, rendered: "done"}
	j := &job.Job{ID: tbl.NextID(), Handler: h, StartTime: time.Now()}

	tbl.Insert(1, j)
	if tbl.Len() != 1 {
		t.Fatalf("expected 1 in-flight job, got %d", tbl.Len())
	}

	// Step 1: handle returns a follow-up, job re-keyed to token 2.
	_, ok := h.Handle(coap.Message{})
	if !ok {
		t.Fatal("expected follow-up on first handle")
	}
	tbl.Rekey(1, 2, j)
	if _, found := tbl.Lookup(1); found {
		t.Fatal("old token should no longer be present after rekey")
	}
	if _, found := tbl.Lookup(2); !found {
		t.Fatal("new token should be present after rekey")
	}

	// Step 2: another follow-up, rekey to token 3.
	_, ok = h.Handle(coap.Message{})
	if !ok {
		t.Fatal("expected follow-up on second handle")
	}
	tbl.Rekey(2, 3, j)

	// Step 3: handler finishes.
	_, ok = h.Handle(coap.Message{})
	if ok {
		t.Fatal("expected handler to finish on third handle")
	}
	if !h.IsFinished() {
		t.Fatal("handler should report finished")
	}

	if err := tbl.Finalize(3, j, time.Now()); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if tbl.Len() != 0 {
		t.Fatalf("expected empty job table after finalize, got %d", tbl.Len())
	}
	if len(tbl.Finished()) != 1 {
		t.Fatalf("expected 1 finished job, got %d", len(tbl.Finished()))
	}
	if !j.Finished {
		t.Fatal("job should be marked finished")
	}
}

func TestFinalizeWritesBinarySink(t *testing.T) {
	tbl := job.NewTable()
	h := &stepHandler{remaining: 0, rendered: "hexdump"}
	dir := t.TempDir()
	path := filepath.Join(dir, "out.bin")
	j := &job.Job{
		ID:      tbl.NextID(),
		Handler: h,
		Sink:    job.Sink{Kind: job.SinkWriteBinary, Path: path},
	}
	tbl.Insert(5, j)

	if err := tbl.Finalize(5, j, time.Now()); err != nil {
		t.Fatalf("finalize: %v", err)
	}

	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read sink file: %v", err)
	}
	if string(got) != "hexdump" {
		t.Fatalf("sink file contents = %q, want %q", got, "hexdump")
	}
	if !contains(j.LogText.String(), "binary saved to: "+path) {
		t.Fatalf("log text missing save confirmation: %q", j.LogText.String())
	}
}

func contains(haystack, needle string) bool {
	return len(haystack) >= len(needle) && (func() bool {
		for i := 0; i+len(needle) <= len(haystack); i++ {
			if haystack[i:i+len(needle)] == needle {
				return true
			}
		}
		return false
	})()
}
