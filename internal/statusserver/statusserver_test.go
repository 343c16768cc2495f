package statusserver_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/basket/slipterm/internal/statusserver"
)

func TestHealthzReportsHealthy(t *testing.T) {
	srv := statusserver.New(nil)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}
}

func TestSnapshotReflectsLastPublish(t *testing.T) {
	srv := statusserver.New(nil)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	srv.Publish(statusserver.Snapshot{Connected: true, Board: "nrf52840dk", JobsInFlight: 2})

	resp, err := http.Get(ts.URL + "/snapshot")
	if err != nil {
		t.Fatalf("GET /snapshot: %v", err)
	}
	defer resp.Body.Close()

	var got statusserver.Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !got.Connected || got.Board != "nrf52840dk" || got.JobsInFlight != 2 {
		t.Fatalf("unexpected snapshot: %+v", got)
	}
}

func TestWebSocketReceivesInitialAndPushedSnapshots(t *testing.T) {
	srv := statusserver.New(nil)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	srv.Publish(statusserver.Snapshot{Connected: true, JobsFinished: 1})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+ts.URL[len("http"):]+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")

	var first statusserver.Snapshot
	if err := wsjson.Read(ctx, conn, &first); err != nil {
		t.Fatalf("read initial snapshot: %v", err)
	}
	if first.JobsFinished != 1 {
		t.Fatalf("unexpected initial snapshot: %+v", first)
	}

	srv.Publish(statusserver.Snapshot{Connected: true, JobsFinished: 2})

	var second statusserver.Snapshot
	if err := wsjson.Read(ctx, conn, &second); err != nil {
		t.Fatalf("read pushed snapshot: %v", err)
	}
	if second.JobsFinished != 2 {
		t.Fatalf("unexpected pushed snapshot: %+v", second)
	}
}
