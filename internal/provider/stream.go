package provider

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// FragmentExtractor pulls the text fragment out of one decoded SSE payload.
// It is the only backend-specific part of stream decoding.
type FragmentExtractor func(payload []byte) (fragment string, err error)

// LineDecoder incrementally splits a byte stream into lines, re-buffering the
// trailing incomplete line between feeds.
type LineDecoder struct {
	buf []byte
}

// Feed appends p to the buffer and emits every complete line found.
func (d *LineDecoder) Feed(p []byte, emit func(line string)) {
	d.buf = append(d.buf, p...)
	for {
		idx := bytes.IndexByte(d.buf, '\n')
		if idx < 0 {
			return
		}
		line := strings.TrimRight(string(d.buf[:idx]), "\r")
		d.buf = d.buf[idx+1:]
		emit(line)
	}
}

// Flush emits any buffered trailing line without a newline terminator.
func (d *LineDecoder) Flush(emit func(line string)) {
	if len(d.buf) > 0 {
		emit(string(d.buf))
		d.buf = nil
	}
}

// decodeSSE reads a server-sent event stream of "data: {...}" lines, invoking
// onFragment once per non-empty extracted fragment until the [DONE] sentinel
// or EOF. Payloads the extractor rejects are skipped, not fatal.
func decodeSSE(r io.Reader, extract FragmentExtractor, onFragment func(string), logger *slog.Logger) error {
	var decoder LineDecoder
	done := false

	handleLine := func(line string) {
		if done {
			return
		}
		line = strings.TrimSpace(line)
		if line == "" || !strings.HasPrefix(line, "data: ") {
			return
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			done = true
			return
		}
		fragment, err := extract([]byte(data))
		if err != nil {
			logger.Warn("Failed to parse stream chunk", "error", err, "data", data)
			return
		}
		if fragment != "" {
			onFragment(fragment)
		}
	}

	chunk := make([]byte, 4096)
	for {
		n, err := r.Read(chunk)
		if n > 0 {
			decoder.Feed(chunk[:n], handleLine)
		}
		if done {
			return nil
		}
		if err == io.EOF {
			decoder.Flush(handleLine)
			return nil
		}
		if err != nil {
			return fmt.Errorf("stream reading error: %w", err)
		}
	}
}
