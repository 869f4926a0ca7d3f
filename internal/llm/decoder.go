package llm

import (
	"bufio"
	"io"
	"strings"
)

const (
	dataPrefix  = "data: "
	eventPrefix = "event: "
	doneMarker  = "[DONE]"
)

// Decoder turns a raw SSE byte stream into a sequence of record payloads.
// It frames lines across chunk boundaries (a trailing partial line is held
// back until the rest arrives), strips the "data: " prefix and stops at the
// "[DONE]" sentinel. It yields raw record strings; JSON interpretation is the
// classifier's job.
type Decoder struct {
	scanner *bufio.Scanner
	done    bool
}

func NewDecoder(r io.Reader) *Decoder {
	scanner := bufio.NewScanner(r)
	// Records can carry large base64 payloads; allow long lines.
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)
	return &Decoder{scanner: scanner}
}

// Next returns the next record payload. ok is false once the sentinel is
// reached or the stream ends; after that the decoder is exhausted. A read
// error is returned as-is and also exhausts the decoder.
func (d *Decoder) Next() (record string, ok bool, err error) {
	if d.done {
		return "", false, nil
	}

	for d.scanner.Scan() {
		line := strings.TrimSpace(d.scanner.Text())

		if line == "" || strings.HasPrefix(line, eventPrefix) {
			// Event separators and event-type lines carry no payload.
			continue
		}

		if !strings.HasPrefix(line, dataPrefix) {
			continue
		}

		payload := strings.TrimPrefix(line, dataPrefix)
		if payload == doneMarker {
			d.done = true
			return "", false, nil
		}
		return payload, true, nil
	}

	d.done = true
	if err := d.scanner.Err(); err != nil {
		return "", false, err
	}
	return "", false, nil
}
