package llm

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chunkReader delivers its chunks one Read call at a time, so lines can be
// split across chunk boundaries like a real HTTP body.
type chunkReader struct {
	chunks []string
	pos    int
}

func (r *chunkReader) Read(p []byte) (int, error) {
	if r.pos >= len(r.chunks) {
		return 0, io.EOF
	}
	n := copy(p, r.chunks[r.pos])
	if n < len(r.chunks[r.pos]) {
		r.chunks[r.pos] = r.chunks[r.pos][n:]
	} else {
		r.pos++
	}
	return n, nil
}

func collectRecords(t *testing.T, d *Decoder) []string {
	t.Helper()
	var records []string
	for {
		record, ok, err := d.Next()
		require.NoError(t, err)
		if !ok {
			return records
		}
		records = append(records, record)
	}
}

func TestDecoderYieldsDataRecords(t *testing.T) {
	body := "data: {\"a\":1}\n\ndata: {\"b\":2}\n\ndata: [DONE]\n"
	d := NewDecoder(strings.NewReader(body))

	records := collectRecords(t, d)
	assert.Equal(t, []string{`{"a":1}`, `{"b":2}`}, records)
}

func TestDecoderBuffersPartialLinesAcrossChunks(t *testing.T) {
	r := &chunkReader{chunks: []string{
		"data: {\"del",
		"ta\":\"Hel\"}\ndata: {\"delta\"",
		":\"lo\"}\n",
		"data: [DONE]\n",
	}}
	d := NewDecoder(r)

	records := collectRecords(t, d)
	assert.Equal(t, []string{`{"delta":"Hel"}`, `{"delta":"lo"}`}, records)
}

func TestDecoderSkipsEventTypeLines(t *testing.T) {
	body := "event: response.output_text.delta\ndata: {\"x\":1}\n\nevent: response.completed\ndata: [DONE]\n"
	d := NewDecoder(strings.NewReader(body))

	records := collectRecords(t, d)
	assert.Equal(t, []string{`{"x":1}`}, records)
}

func TestDecoderEmptyStream(t *testing.T) {
	d := NewDecoder(strings.NewReader("data: [DONE]\n"))
	assert.Empty(t, collectRecords(t, d))
}

func TestDecoderStopsAtEOFWithoutSentinel(t *testing.T) {
	d := NewDecoder(strings.NewReader("data: {\"a\":1}\n"))
	records := collectRecords(t, d)
	assert.Equal(t, []string{`{"a":1}`}, records)
}

func TestDecoderExhaustedAfterSentinel(t *testing.T) {
	d := NewDecoder(strings.NewReader("data: [DONE]\ndata: {\"late\":true}\n"))

	_, ok, err := d.Next()
	require.NoError(t, err)
	assert.False(t, ok)

	// Not resumable after exhaustion, even with more bytes behind the sentinel.
	_, ok, err = d.Next()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDecoderIgnoresNonDataLines(t *testing.T) {
	body := ": keepalive comment\nretry: 3000\ndata: {\"a\":1}\ndata: [DONE]\n"
	d := NewDecoder(strings.NewReader(body))

	records := collectRecords(t, d)
	assert.Equal(t, []string{`{"a":1}`}, records)
}
