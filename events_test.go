package agentloop

import (
	"strings"
	"testing"
)

func TestNewCallID(t *testing.T) {
	id := NewCallID("read_file")
	if !strings.HasPrefix(id, "read_file-") {
		t.Errorf("call id %q lacks tool name prefix", id)
	}
	// name-<millis>-<8 hex chars>
	parts := strings.Split(strings.TrimPrefix(id, "read_file-"), "-")
	if len(parts) != 2 {
		t.Fatalf("call id %q has unexpected shape", id)
	}
	if len(parts[1]) != 8 {
		t.Errorf("random suffix %q is not 8 characters", parts[1])
	}

	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		fresh := NewCallID("tool")
		if seen[fresh] {
			t.Fatalf("call id %q collided", fresh)
		}
		seen[fresh] = true
	}
}
