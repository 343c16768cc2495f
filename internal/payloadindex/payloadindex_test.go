package payloadindex_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/basket/slipterm/internal/payloadindex"
)

func TestRecordAndRecentRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "exports.db")
	idx, err := payloadindex.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer idx.Close()

	ctx := context.Background()
	_, err = idx.Record(ctx, payloadindex.Record{
		JobID:         7,
		SinkPath:      "/tmp/out.bin",
		ByteLength:    42,
		ContentFormat: "application/octet-stream",
		CreatedAt:     time.Now(),
	})
	if err != nil {
		t.Fatalf("Record: %v", err)
	}

	recent, err := idx.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recent) != 1 {
		t.Fatalf("expected 1 record, got %d", len(recent))
	}
	if recent[0].SinkPath != "/tmp/out.bin" || recent[0].ByteLength != 42 {
		t.Fatalf("unexpected record: %+v", recent[0])
	}
}

func TestRecentRespectsLimit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "exports.db")
	idx, err := payloadindex.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer idx.Close()

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		idx.Record(ctx, payloadindex.Record{JobID: uint64(i), SinkPath: "x", CreatedAt: time.Now()})
	}
	recent, err := idx.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("expected 2 records, got %d", len(recent))
	}
}
