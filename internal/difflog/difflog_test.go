package difflog_test

import (
	"testing"
	"time"

	"github.com/basket/slipterm/internal/difflog"
)

func TestFeedSplitsOnNewlineAcrossFragments(t *testing.T) {
	l := difflog.New()
	now := time.Now()
	fragments := []string{"foo", "bar", "baz\n", "hello wo", "rld!\n"}
	for _, f := range fragments {
		l.Feed(f, now)
	}

	lines := l.Lines()
	if len(lines) != 2 {
		t.Fatalf("expected 2 completed lines, got %d: %+v", len(lines), lines)
	}
	if lines[0].Text != "foobarbaz" {
		t.Fatalf("line 0 = %q, want %q", lines[0].Text, "foobarbaz")
	}
	if lines[1].Text != "hello world!" {
		t.Fatalf("line 1 = %q, want %q", lines[1].Text, "hello world!")
	}
}

func TestFeedStripsCarriageReturnsAndTabs(t *testing.T) {
	l := difflog.New()
	l.Feed("a\tb\rc\n", time.Now())
	lines := l.Lines()
	if len(lines) != 1 || lines[0].Text != "abc" {
		t.Fatalf("expected stripped line 'abc', got %+v", lines)
	}
}
