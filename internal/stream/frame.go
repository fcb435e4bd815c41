// Package stream decodes the assistant's line-framed response body into an
// ordered sequence of text fragments.
//
// A body is a sequence of newline-terminated lines. Only lines starting with
// "data: " carry content; the payload "[DONE]" ends the stream. Lines arrive
// in arbitrarily sized chunks, so the Decoder buffers the trailing partial
// line between reads.
package stream

import (
	"bytes"
	"io"
	"strings"
)

const (
	dataPrefix   = "data: "
	doneSentinel = "[DONE]"
)

// Kind classifies one line of the response body.
type Kind int

const (
	// KindIgnored is a line with no content: a blank separator, an SSE
	// comment, or an SSE field this client does not use.
	KindIgnored Kind = iota
	// KindFragment carries one piece of assistant output in Payload.
	KindFragment
	// KindDone is the end-of-stream sentinel. It is never yielded as content.
	KindDone
	// KindMalformed is a line the framing does not allow. Err describes it.
	KindMalformed
)

func (k Kind) String() string {
	switch k {
	case KindIgnored:
		return "ignored"
	case KindFragment:
		return "fragment"
	case KindDone:
		return "done"
	case KindMalformed:
		return "malformed"
	default:
		return "unknown"
	}
}

// Line is the tagged result of classifying one line.
type Line struct {
	Kind    Kind
	Raw     string
	Payload string
	Err     *ProtocolError
}

// ignoredFields are SSE field names that are valid on the wire but carry
// nothing this client consumes.
var ignoredFields = []string{"event", "id", "retry"}

// Classify tags a single line (without its trailing newline).
func Classify(raw string) Line {
	if strings.HasPrefix(raw, dataPrefix) {
		payload := raw[len(dataPrefix):]
		if payload == doneSentinel {
			return Line{Kind: KindDone, Raw: raw}
		}
		return Line{Kind: KindFragment, Raw: raw, Payload: payload}
	}

	if raw == "" || raw == "\r" || strings.HasPrefix(raw, ":") {
		return Line{Kind: KindIgnored, Raw: raw}
	}
	for _, f := range ignoredFields {
		if raw == f || strings.HasPrefix(raw, f+":") {
			return Line{Kind: KindIgnored, Raw: raw}
		}
	}

	reason := "line lacks data prefix"
	if strings.HasPrefix(raw, "data:") {
		reason = "data field without separating space"
	}
	return Line{Kind: KindMalformed, Raw: raw, Err: &ProtocolError{Line: raw, Reason: reason}}
}

// Decoder splits a chunked byte stream into classified lines.
// The zero value is ready to use.
type Decoder struct {
	buf []byte
}

// Feed appends chunk to the pending data and returns every line completed by
// it. The trailing unterminated segment is retained for the next call.
func (d *Decoder) Feed(chunk []byte) []Line {
	d.buf = append(d.buf, chunk...)

	var lines []Line
	for {
		i := bytes.IndexByte(d.buf, '\n')
		if i < 0 {
			break
		}
		lines = append(lines, Classify(string(d.buf[:i])))
		d.buf = d.buf[i+1:]
	}

	// Release the consumed prefix once nothing is pending.
	if len(d.buf) == 0 {
		d.buf = nil
	}
	return lines
}

// Pending returns the number of buffered bytes not yet forming a full line.
func (d *Decoder) Pending() int { return len(d.buf) }

// Flush reports what is left in the buffer at end of input. A non-empty
// remainder was cut off mid-line and is reported as malformed, never as a
// fragment.
func (d *Decoder) Flush() []Line {
	if len(d.buf) == 0 {
		return nil
	}
	raw := string(d.buf)
	d.buf = nil
	return []Line{{
		Kind: KindMalformed,
		Raw:  raw,
		Err:  &ProtocolError{Line: raw, Reason: "truncated frame at end of stream"},
	}}
}

// Decode reads r to completion and returns the fragments seen before the
// sentinel, along with whether the sentinel was present. Malformed lines are
// skipped.
func Decode(r io.Reader) (fragments []string, terminated bool, err error) {
	var dec Decoder
	buf := make([]byte, 4096)
	for {
		n, rerr := r.Read(buf)
		for _, line := range dec.Feed(buf[:n]) {
			switch line.Kind {
			case KindFragment:
				fragments = append(fragments, line.Payload)
			case KindDone:
				return fragments, true, nil
			}
		}
		if rerr == io.EOF {
			return fragments, false, nil
		}
		if rerr != nil {
			return fragments, false, rerr
		}
	}
}
