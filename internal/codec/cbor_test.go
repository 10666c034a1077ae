package codec

import (
	"bytes"
	"testing"
)

func TestMarshalIsDeterministic(t *testing.T) {
	a := map[string]any{"zeta": 1, "alpha": []float64{1.5, 2}, "mid": "x"}
	b := map[string]any{"mid": "x", "alpha": []float64{1.5, 2}, "zeta": 1}

	first, err := Marshal(a)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	second, err := Marshal(b)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Fatalf("expected identical encodings for equal maps")
	}
}

func TestUnmarshalUsesStringKeyedMaps(t *testing.T) {
	data, err := Marshal(map[string]any{"outer": map[string]any{"inner": "v"}})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out any
	if err := Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	top, ok := out.(map[string]any)
	if !ok {
		t.Fatalf("expected map[string]any, got %T", out)
	}
	if _, ok := top["outer"].(map[string]any); !ok {
		t.Fatalf("expected nested map[string]any, got %T", top["outer"])
	}
}
