package artifact

import (
	"errors"
	"testing"
	"time"

	"github.com/miradorstack/mirador-hotspots/internal/models"
)

func sampleArtifact() Artifact {
	return Artifact{
		ModelID:   "zscore",
		State:     []byte("state-bytes-state-bytes-state-bytes"),
		Stats:     models.AggregatorStats{Count: 3, Sum: 22, Min: 1, Mean: 7.333, Max: 17, Std: 8.5},
		TrainedAt: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
		Samples:   3,
	}
}

func TestEncodeDecode(t *testing.T) {
	data, err := Encode(sampleArtifact())
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := Decode(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	want := sampleArtifact()
	if got.ModelID != want.ModelID || string(got.State) != string(want.State) || got.Stats != want.Stats || !got.TrainedAt.Equal(want.TrainedAt) {
		t.Fatalf("unexpected artifact: %+v", got)
	}
}

func TestDecodeDetectsTruncation(t *testing.T) {
	data, err := Encode(sampleArtifact())
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	for _, cut := range []int{0, 10, headerSize, len(data) - 1} {
		if _, err := Decode(data[:cut]); !errors.Is(err, ErrCorrupt) {
			t.Fatalf("cut at %d: expected ErrCorrupt, got %v", cut, err)
		}
	}
	tampered := append([]byte(nil), data...)
	tampered[len(magic)] ^= 0xff
	if _, err := Decode(tampered); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("expected digest mismatch, got %v", err)
	}
}

func TestFileStoreSaveLoad(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if _, ok, err := store.Load("l7_latency"); err != nil || ok {
		t.Fatalf("expected absent artifact, got ok=%v err=%v", ok, err)
	}
	if err := store.Save("l7_latency", []byte("v1")); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := store.Save("l7_latency", []byte("version-2")); err != nil {
		t.Fatalf("save: %v", err)
	}
	data, ok, err := store.Load("l7_latency")
	if err != nil || !ok || string(data) != "version-2" {
		t.Fatalf("unexpected load: %q ok=%v err=%v", data, ok, err)
	}
	if err := store.Save("../escape", nil); err == nil {
		t.Fatalf("expected invalid name error")
	}
}
