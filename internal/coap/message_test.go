package coap_test

import (
	"math"
	"testing"

	"github.com/basket/slipterm/internal/coap"
	coapmessage "github.com/plgd-dev/go-coap/v3/message"
)

func TestTokenDigestSumsBytes(t *testing.T) {
	cases := []struct {
		token []byte
		want  uint64
	}{
		{nil, 0},
		{[]byte{0x01, 0x02}, 3},
		{[]byte{0xFF, 0xFF}, 0x1FE},
		{[]byte{1, 2, 3, 4, 5, 6, 7, 8}, 36},
	}
	for _, c := range cases {
		if got := coap.TokenDigest(c.token); got != c.want {
			t.Fatalf("TokenDigest(%v) = %d, want %d", c.token, got, c.want)
		}
	}
}

func TestTokenDigestSaturatesAboveEightBytes(t *testing.T) {
	token := make([]byte, 9)
	for i := range token {
		token[i] = 1
	}
	if got := coap.TokenDigest(token); got != math.MaxUint64 {
		t.Fatalf("TokenDigest(9-byte token) = %d, want MaxUint64", got)
	}
}

func TestTokenGeneratorProducesTwoByteTokens(t *testing.T) {
	g := coap.NewTokenGenerator()
	seen := map[uint16]bool{}
	for i := 0; i < 100; i++ {
		tok := g.Next()
		if len(tok) != 2 {
			t.Fatalf("expected 2-byte token, got %d bytes", len(tok))
		}
		v := uint16(tok[0]) | uint16(tok[1])<<8
		if seen[v] {
			t.Fatalf("token %v repeated within 100 draws", tok)
		}
		seen[v] = true
	}
}

func TestMessageIDGeneratorIncrements(t *testing.T) {
	g := coap.NewMessageIDGenerator()
	first := g.Next()
	second := g.Next()
	if second != first+1 {
		t.Fatalf("expected sequential message ids, got %d then %d", first, second)
	}
}

func TestNewGetRequestCarriesBlock2Hint(t *testing.T) {
	req := coap.NewGetRequest("/riot/board")
	if req.Path() != "/riot/board" {
		t.Fatalf("Path() = %q, want /riot/board", req.Path())
	}
}

func TestNewGetRequestEncodesOneURIPathOptionPerSegment(t *testing.T) {
	req := coap.NewGetRequest("/riot/board")
	var segments []string
	for _, opt := range req.Options {
		if opt.ID == coapmessage.URIPath {
			segments = append(segments, string(opt.Value))
		}
	}
	want := []string{"riot", "board"}
	if len(segments) != len(want) {
		t.Fatalf("got %d Uri-Path options %v, want %v", len(segments), segments, want)
	}
	for i := range want {
		if segments[i] != want[i] {
			t.Fatalf("Uri-Path option %d = %q, want %q", i, segments[i], want[i])
		}
	}
}
