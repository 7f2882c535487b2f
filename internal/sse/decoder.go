// Package sse decodes the text-framed event stream produced by the chatbot
// endpoint: UTF-8 text, events separated by a blank line, payload carried on
// "data:" lines, everything else ignored.
package sse

import (
	"io"
	"strings"
	"unicode/utf8"
)

const dataPrefix = "data:"

// Decoder incrementally decodes events from a response body. It tolerates a
// multi-byte UTF-8 character split across two physical reads: undecoded
// trailing bytes are carried between reads, never reset.
type Decoder struct {
	r     io.Reader
	buf   []byte // read scratch
	raw   []byte // bytes not yet decoded (may end mid-rune)
	text  string // decoded text not yet framed
	queue []Event
	err   error
}

// NewDecoder wraps a response body.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: r, buf: make([]byte, 4096)}
}

// Next returns the next meaningful event. It returns io.EOF when the stream
// is exhausted, or the read error that terminated it.
func (d *Decoder) Next() (Event, error) {
	for {
		if len(d.queue) > 0 {
			ev := d.queue[0]
			d.queue = d.queue[1:]
			return ev, nil
		}
		if d.err != nil {
			return Event{}, d.err
		}

		n, err := d.r.Read(d.buf)
		if n > 0 {
			d.raw = append(d.raw, d.buf[:n]...)
			d.decodeComplete()
			d.drainFrames(false)
		}
		if err != nil {
			d.err = err
			// A trailing event without a closing blank line still counts.
			d.drainFrames(true)
		}
	}
}

// decodeComplete moves every complete rune from raw into text, keeping the
// bytes of a partially received rune for the next read.
func (d *Decoder) decodeComplete() {
	cut := len(d.raw)
	if cut == 0 {
		return
	}
	start := cut - 1
	for start > 0 && !utf8.RuneStart(d.raw[start]) {
		start--
	}
	if !utf8.FullRune(d.raw[start:]) {
		cut = start
	}
	if cut == 0 {
		return
	}
	d.text += string(d.raw[:cut])
	d.raw = append(d.raw[:0], d.raw[cut:]...)
}

// drainFrames splits buffered text on blank lines and parses each complete
// frame. With flush set, the trailing partial frame is parsed too. CRLF
// endings are folded to LF first so "\r\n\r\n" frames the same as "\n\n";
// a trailing lone "\r" (its "\n" not yet read) stays buffered and is folded
// on the next pass.
func (d *Decoder) drainFrames(flush bool) {
	if strings.Contains(d.text, "\r\n") {
		d.text = strings.ReplaceAll(d.text, "\r\n", "\n")
	}
	for {
		idx := strings.Index(d.text, "\n\n")
		if idx < 0 {
			break
		}
		frame := d.text[:idx]
		d.text = d.text[idx+2:]
		d.parseFrame(frame)
	}
	if flush && strings.TrimSpace(d.text) != "" {
		d.parseFrame(d.text)
		d.text = ""
	}
}

// parseFrame extracts payload lines from one event frame. Comment frames and
// lines without the payload prefix are ignored; multiple payload lines are
// joined with a newline.
func (d *Decoder) parseFrame(frame string) {
	if strings.HasPrefix(frame, ":") {
		return
	}
	var parts []string
	for _, line := range strings.Split(frame, "\n") {
		line = strings.TrimSuffix(line, "\r")
		if !strings.HasPrefix(line, dataPrefix) {
			continue
		}
		part := strings.TrimPrefix(line, dataPrefix)
		part = strings.TrimPrefix(part, " ")
		parts = append(parts, part)
	}
	if len(parts) == 0 {
		return
	}
	if ev, ok := parsePayload(strings.Join(parts, "\n")); ok {
		d.queue = append(d.queue, ev)
	}
}
