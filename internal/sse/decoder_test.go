package sse

import (
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chunkReader delivers its byte slices one per Read call, mimicking the
// arbitrary physical chunking of an HTTP body.
type chunkReader struct {
	chunks [][]byte
}

func (r *chunkReader) Read(p []byte) (int, error) {
	if len(r.chunks) == 0 {
		return 0, io.EOF
	}
	n := copy(p, r.chunks[0])
	if n < len(r.chunks[0]) {
		r.chunks[0] = r.chunks[0][n:]
	} else {
		r.chunks = r.chunks[1:]
	}
	return n, nil
}

func readAll(t *testing.T, d *Decoder) []Event {
	t.Helper()
	var out []Event
	for {
		ev, err := d.Next()
		if err == io.EOF {
			return out
		}
		require.NoError(t, err)
		out = append(out, ev)
	}
}

func fromString(s string) *Decoder {
	return NewDecoder(&chunkReader{chunks: [][]byte{[]byte(s)}})
}

func TestStructuredEvents(t *testing.T) {
	stream := "data: {\"type\":\"ready\",\"assistant_msg_id\":\"am-1\"}\n\n" +
		"data: {\"type\":\"chunk\",\"delta\":\"Hel\"}\n\n" +
		"data: {\"type\":\"chunk\",\"delta\":\"lo\"}\n\n" +
		"data: {\"type\":\"end\"}\n\n"

	events := readAll(t, fromString(stream))
	require.Len(t, events, 4)
	assert.Equal(t, Ready, events[0].Type)
	assert.Equal(t, "am-1", events[0].AssistantMsgID)
	assert.Equal(t, "Hel", events[1].Delta)
	assert.Equal(t, "lo", events[2].Delta)
	assert.Equal(t, End, events[3].Type)
}

func TestErrorEvent(t *testing.T) {
	events := readAll(t, fromString("data: {\"type\":\"error\",\"message\":\"model overloaded\"}\n\n"))
	require.Len(t, events, 1)
	assert.Equal(t, Error, events[0].Type)
	assert.Equal(t, "model overloaded", events[0].Message)
}

func TestUnknownStructuredTypesAreSkipped(t *testing.T) {
	stream := "data: {\"type\":\"start\"}\n\n" +
		"data: {\"type\":\"debug\",\"stage\":\"vector_search\"}\n\n" +
		"data: {\"type\":\"saved\",\"id\":\"x\"}\n\n" +
		"data: {\"type\":\"chunk\",\"delta\":\"ok\"}\n\n"

	events := readAll(t, fromString(stream))
	require.Len(t, events, 1)
	assert.Equal(t, "ok", events[0].Delta)
}

func TestCommentAndUnprefixedLinesIgnored(t *testing.T) {
	stream := ": keepalive\n\n" +
		"event: message\nretry: 500\ndata: {\"type\":\"chunk\",\"delta\":\"a\"}\n\n" +
		"garbage line\n\n"

	events := readAll(t, fromString(stream))
	require.Len(t, events, 1)
	assert.Equal(t, "a", events[0].Delta)
}

func TestMultilinePayloadJoined(t *testing.T) {
	events := readAll(t, fromString("data: first line\ndata: second line\n\n"))
	require.Len(t, events, 1)
	assert.Equal(t, PlainText, events[0].Type)
	assert.Equal(t, "first line\nsecond line", events[0].Text)
}

func TestSentinelSuppression(t *testing.T) {
	tests := []struct {
		name     string
		payload  string
		terminal bool
	}{
		{"upper done", "[DONE]", true},
		{"lower done bracket", "[done]", true},
		{"bare done", "done", true},
		{"bare end", "end", true},
		{"padded", "  [DONE]  ", true},
		{"mixed case", "DoNe", true},
		{"contains but not equals", "end of sentence.", false},
		{"prefixed", "well done", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := newPlainText(tt.payload)
			if tt.terminal {
				assert.Equal(t, End, ev.Type)
				assert.Empty(t, ev.Text)
			} else {
				assert.Equal(t, PlainText, ev.Type)
				assert.Equal(t, tt.payload, ev.Text)
			}
		})
	}
}

func TestEventSplitAcrossReads(t *testing.T) {
	d := NewDecoder(&chunkReader{chunks: [][]byte{
		[]byte("data: {\"type\":\"chunk\",\"del"),
		[]byte("ta\":\"Hello, world\"}"),
		[]byte("\n\ndata: {\"type\":\"end\"}\n\n"),
	}})
	events := readAll(t, d)
	require.Len(t, events, 2)
	assert.Equal(t, "Hello, world", events[0].Delta)
	assert.Equal(t, End, events[1].Type)
}

func TestMultiByteRuneSplitAcrossReads(t *testing.T) {
	// "日" is e6 97 a5; split it between two physical reads.
	frame := []byte("data: 日本\n\n")
	d := NewDecoder(&chunkReader{chunks: [][]byte{
		frame[:8], // ends mid-rune
		frame[8:],
	}})
	events := readAll(t, d)
	require.Len(t, events, 1)
	assert.Equal(t, "日本", events[0].Text)
}

func TestCRLFFraming(t *testing.T) {
	stream := "data: {\"type\":\"chunk\",\"delta\":\"hi\"}\r\n\r\n" +
		"data: {\"type\":\"end\"}\r\n\r\n"
	evs := readAll(t, fromString(stream))
	require.Len(t, evs, 2)
	assert.Equal(t, Chunk, evs[0].Type)
	assert.Equal(t, "hi", evs[0].Delta)
	assert.Equal(t, End, evs[1].Type)
}

func TestCRLFBoundarySplitAcrossReads(t *testing.T) {
	// The blank line's "\r\n\r" arrives in one read, its "\n" in the next.
	d := NewDecoder(&chunkReader{chunks: [][]byte{
		[]byte("data: {\"type\":\"chunk\",\"delta\":\"hi\"}\r\n\r"),
		[]byte("\ndata: {\"type\":\"end\"}\r\n\r\n"),
	}})
	evs := readAll(t, d)
	require.Len(t, evs, 2)
	assert.Equal(t, Chunk, evs[0].Type)
	assert.Equal(t, "hi", evs[0].Delta)
	assert.Equal(t, End, evs[1].Type)
}

func TestTrailingFrameWithoutBlankLine(t *testing.T) {
	events := readAll(t, fromString("data: {\"type\":\"chunk\",\"delta\":\"tail\"}"))
	require.Len(t, events, 1)
	assert.Equal(t, "tail", events[0].Delta)
}

func TestEmptyStream(t *testing.T) {
	events := readAll(t, fromString(""))
	assert.Empty(t, events)
}
