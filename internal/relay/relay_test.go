package relay

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

type fakeSender struct {
	mu       sync.Mutex
	sent     []tgbotapi.Chattable
	failures int
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures > 0 {
		f.failures--
		return tgbotapi.Message{}, errors.New("transient failure")
	}
	f.sent = append(f.sent, c)
	return tgbotapi.Message{}, nil
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func TestStartMirrorsLinesToAllChats(t *testing.T) {
	fake := &fakeSender{}
	lines := make(chan LineEvent, 1)
	jobs := make(chan JobSummaryEvent, 1)
	r := newRelay(fake, []int64{1, 2}, lines, jobs, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Start(ctx) }()

	lines <- LineEvent{Text: "hello", Arrived: time.Now()}

	deadline := time.After(time.Second)
	for {
		if fake.count() == 2 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("expected 2 sends, got %d", fake.count())
		case <-time.After(time.Millisecond):
		}
	}

	cancel()
	<-done
}

func TestStartMirrorsJobSummaries(t *testing.T) {
	fake := &fakeSender{}
	lines := make(chan LineEvent, 1)
	jobs := make(chan JobSummaryEvent, 1)
	r := newRelay(fake, []int64{42}, lines, jobs, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Start(ctx) }()

	jobs <- JobSummaryEvent{ID: 1, CLIText: "mem", Duration: 2 * time.Second, Summary: "ok"}

	deadline := time.After(time.Second)
	for fake.count() != 1 {
		select {
		case <-deadline:
			t.Fatalf("expected 1 send, got %d", fake.count())
		case <-time.After(time.Millisecond):
		}
	}

	cancel()
	<-done
}

func TestBroadcastRetriesTransientFailure(t *testing.T) {
	fake := &fakeSender{failures: 1}
	r := newRelay(fake, []int64{7}, nil, nil, nil)

	r.broadcast(context.Background(), "retry me")

	if fake.count() != 1 {
		t.Fatalf("expected send to eventually succeed, got %d successes", fake.count())
	}
}

func TestName(t *testing.T) {
	r := newRelay(&fakeSender{}, nil, nil, nil, nil)
	if r.Name() != "telegram" {
		t.Fatalf("unexpected name: %s", r.Name())
	}
}
