package codec

import (
	"strings"
	"testing"
)

func TestLimitRejectsOversizedPayload(t *testing.T) {
	c := Limit[string]{Inner: String{}, MaxDecode: 8}

	if _, err := c.Decode([]byte("under")); err != nil {
		t.Fatalf("small payload rejected: %v", err)
	}
	if _, err := c.Decode([]byte(strings.Repeat("x", 9))); err == nil {
		t.Fatal("oversized payload accepted")
	}
}

func TestLimitZeroDisablesCheck(t *testing.T) {
	c := Limit[string]{Inner: String{}}
	if _, err := c.Decode([]byte(strings.Repeat("x", 1<<16))); err != nil {
		t.Fatalf("unlimited codec rejected payload: %v", err)
	}
}

func TestLimitForwardsEncode(t *testing.T) {
	c := Limit[string]{Inner: String{}, MaxDecode: 1}
	b, err := c.Encode("well over the decode limit")
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if len(b) <= 1 {
		t.Fatalf("Encode truncated: %q", b)
	}
}
