package protocol

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/isdmx/codelab/fault"
)

// MaxLineBytes bounds a single encoded message.
const MaxLineBytes = 16 * 1024 * 1024

// Encoder writes messages as JSON lines. It is safe for concurrent use.
type Encoder struct {
	mu sync.Mutex
	w  io.Writer
}

// NewEncoder returns an Encoder writing to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

// Encode writes m followed by a newline.
func (e *Encoder) Encode(m Message) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to marshal %s message: %w", m.Type, err)
	}
	data = append(data, '\n')

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := e.w.Write(data); err != nil {
		return fmt.Errorf("failed to write %s message: %w", m.Type, err)
	}
	return nil
}

// Decoder reads JSON-line messages.
type Decoder struct {
	scanner *bufio.Scanner
}

// NewDecoder returns a Decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), MaxLineBytes)
	return &Decoder{scanner: scanner}
}

// Decode returns the next message. A malformed line yields a protocol fault
// and the decoder stays usable; io.EOF marks the end of the stream.
func (d *Decoder) Decode() (Message, error) {
	for d.scanner.Scan() {
		line := d.scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var m Message
		if err := json.Unmarshal(line, &m); err != nil {
			return Message{}, fault.Protocol("malformed message", err)
		}
		if err := m.Validate(); err != nil {
			return Message{}, err
		}
		return m, nil
	}

	if err := d.scanner.Err(); err != nil {
		return Message{}, fmt.Errorf("failed to read message stream: %w", err)
	}
	return Message{}, io.EOF
}
