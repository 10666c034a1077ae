// Package artifact persists trained model state together with the training
// statistics of a job. Each artifact is a single self-describing unit: a BLAKE3
// digest over the CBOR payload followed by the zstd-compressed payload.
package artifact

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/zeebo/blake3"

	"github.com/miradorstack/mirador-hotspots/internal/codec"
	"github.com/miradorstack/mirador-hotspots/internal/models"
)

// ErrCorrupt is returned when stored bytes do not decode to a complete artifact.
var ErrCorrupt = errors.New("artifact corrupt")

// Artifact is the persisted result of training one job.
type Artifact struct {
	ModelID   string                 `cbor:"model_id"`
	State     []byte                 `cbor:"state"`
	Stats     models.AggregatorStats `cbor:"stats"`
	TrainedAt time.Time              `cbor:"trained_at"`
	Samples   int                    `cbor:"samples"`
}

var magic = [4]byte{'M', 'H', 'A', '1'}

const headerSize = len(magic) + 32 + 8

// digestKey separates artifact digests from any other BLAKE3 use.
var digestKey = [32]byte{
	'm', 'i', 'r', 'a', 'd', 'o', 'r', '.', 'h', 'o', 't', 's', 'p', 'o', 't', 's',
	'.', 'a', 'r', 't', 'i', 'f', 'a', 'c', 't', 0, 0, 0, 0, 0, 0, 0,
}

var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("artifact: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("artifact: zstd decoder initialization failed: " + err.Error())
	}
}

// Encode serialises a into its stored form.
func Encode(a Artifact) ([]byte, error) {
	payload, err := codec.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("encode artifact: %w", err)
	}
	digest := digestOf(payload)

	var buf bytes.Buffer
	buf.Grow(headerSize + len(payload))
	buf.Write(magic[:])
	buf.Write(digest[:])
	var size [8]byte
	binary.BigEndian.PutUint64(size[:], uint64(len(payload)))
	buf.Write(size[:])
	buf.Write(zstdEncoder.EncodeAll(payload, nil))
	return buf.Bytes(), nil
}

// Decode parses stored bytes, verifying the digest. Truncated or altered input
// yields ErrCorrupt.
func Decode(data []byte) (Artifact, error) {
	if len(data) < headerSize || !bytes.Equal(data[:len(magic)], magic[:]) {
		return Artifact{}, fmt.Errorf("%w: bad header", ErrCorrupt)
	}
	var want [32]byte
	copy(want[:], data[len(magic):len(magic)+32])
	size := binary.BigEndian.Uint64(data[len(magic)+32 : headerSize])

	payload, err := zstdDecoder.DecodeAll(data[headerSize:], make([]byte, 0, int(min(size, 1<<26))))
	if err != nil {
		return Artifact{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if uint64(len(payload)) != size {
		return Artifact{}, fmt.Errorf("%w: got %d payload bytes, expected %d", ErrCorrupt, len(payload), size)
	}
	if digestOf(payload) != want {
		return Artifact{}, fmt.Errorf("%w: digest mismatch", ErrCorrupt)
	}

	var a Artifact
	if err := codec.Unmarshal(payload, &a); err != nil {
		return Artifact{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return a, nil
}

func digestOf(payload []byte) [32]byte {
	hasher, err := blake3.NewKeyed(digestKey[:])
	if err != nil {
		panic("artifact: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	_, _ = hasher.Write(payload)
	var out [32]byte
	copy(out[:], hasher.Sum(nil))
	return out
}
