package handoff

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/fxamacker/cbor/v2"

	"github.com/Uranury/ruuvi-lapio/reading"
)

// The producer process writes readings as a CBOR sequence using Core
// Deterministic Encoding. reading.Normalized has json tags only; the
// CBOR codec falls back to them for field names.
var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("handoff: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("handoff: CBOR decoder initialization failed: " + err.Error())
	}
}

// StreamWriter pushes readings onto a CBOR stream, typically the
// producer process's stdout.
type StreamWriter struct {
	mu  sync.Mutex
	enc *cbor.Encoder
}

func NewStreamWriter(w io.Writer) *StreamWriter {
	return &StreamWriter{enc: encMode.NewEncoder(w)}
}

// Push writes one reading. Safe for concurrent use.
func (s *StreamWriter) Push(r reading.Normalized) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enc.Encode(r); err != nil {
		return fmt.Errorf("encode reading: %w", err)
	}
	return nil
}

// Pump decodes readings from r into q until r is exhausted. A clean end
// of stream returns nil.
func Pump(r io.Reader, q *Queue) error {
	dec := decMode.NewDecoder(r)
	for {
		var n reading.Normalized
		if err := dec.Decode(&n); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("decode reading: %w", err)
		}
		q.Push(n)
	}
}
