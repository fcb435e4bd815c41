package render

import (
	"io"
	"strings"
	"sync"
	"time"

	"github.com/soyeahso/compass/internal/logging"
)

// FlusherConfig controls when buffered reply text is rendered.
type FlusherConfig struct {
	// MaxBufferBytes forces a flush once the buffer reaches this size.
	// Default: 2048 bytes.
	MaxBufferBytes int

	// IdleTimeout flushes when no fragment arrives within this duration.
	// Default: 1 second.
	IdleTimeout time.Duration

	// Sentences also flushes at sentence ends. Only useful for plain
	// output, where a split paragraph still reads correctly.
	Sentences bool
}

// Flusher accumulates reply fragments and renders them at natural
// boundaries (paragraphs, sentences, size limit, idle timeout). Text inside
// an unterminated code fence is held back until the fence closes.
type Flusher struct {
	cfg FlusherConfig
	r   Renderer
	w   io.Writer
	log *logging.Logger

	mu      sync.Mutex
	buf     strings.Builder
	seen    int // bytes of the accumulated reply already buffered
	timer   *time.Timer
	flushed bool
}

// NewFlusher creates a flusher that renders with r and writes to w.
func NewFlusher(cfg FlusherConfig, r Renderer, w io.Writer, log *logging.Logger) *Flusher {
	if cfg.MaxBufferBytes <= 0 {
		cfg.MaxBufferBytes = 2048
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = time.Second
	}
	return &Flusher{cfg: cfg, r: r, w: w, log: log}
}

// Follow takes the whole reply accumulated so far and buffers the part not
// seen yet. A reply that no longer extends the previous one starts over.
func (f *Flusher) Follow(acc string) {
	f.mu.Lock()
	seen := f.seen
	f.mu.Unlock()

	if len(acc) < seen {
		f.Reset()
		seen = 0
	}
	if len(acc) == seen {
		return
	}
	f.Write(acc[seen:])
}

// Write appends a fragment and flushes if a boundary is reached.
func (f *Flusher) Write(text string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.buf.WriteString(text)
	f.seen += len(text)

	if f.timer != nil {
		f.timer.Stop()
	}
	f.timer = time.AfterFunc(f.cfg.IdleTimeout, func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		if !openFence(f.buf.String()) {
			f.flushLocked()
		}
	})

	f.checkFlushLocked()
}

// Flush renders whatever is buffered. Call after the reply settles.
func (f *Flusher) Flush() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopLocked()
	f.flushLocked()
}

// Reset discards buffered text without rendering it.
func (f *Flusher) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopLocked()
	f.buf.Reset()
	f.seen = 0
}

// Flushed reports whether anything has been written.
func (f *Flusher) Flushed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.flushed
}

func (f *Flusher) stopLocked() {
	if f.timer != nil {
		f.timer.Stop()
		f.timer = nil
	}
}

func (f *Flusher) checkFlushLocked() {
	content := f.buf.String()
	fenced := openFence(content)

	if len(content) >= f.cfg.MaxBufferBytes && !fenced {
		f.flushLocked()
		return
	}
	if fenced {
		return
	}

	if idx := strings.LastIndex(content, "\n\n"); idx >= 0 {
		f.flushAtLocked(idx + 2)
		return
	}

	if f.cfg.Sentences {
		if pos := lastSentenceEnd(content); pos > 0 {
			f.flushAtLocked(pos)
		}
	}
}

// flushAtLocked renders the first pos bytes and keeps the rest.
func (f *Flusher) flushAtLocked(pos int) {
	content := f.buf.String()
	pos = min(pos, len(content))
	head := strings.TrimSpace(content[:pos])
	if head == "" {
		return
	}
	f.writeLocked(head)
	f.buf.Reset()
	f.buf.WriteString(content[pos:])
}

func (f *Flusher) flushLocked() {
	content := strings.TrimSpace(f.buf.String())
	f.buf.Reset()
	if content == "" {
		return
	}
	f.writeLocked(content)
}

func (f *Flusher) writeLocked(text string) {
	out, err := f.r.Render(text)
	if err != nil {
		f.log.Warn().Err(err).Msg("render failed, writing raw text")
		out = text + "\n"
	}
	if _, err := io.WriteString(f.w, out); err != nil {
		f.log.Error().Err(err).Msg("failed to write reply chunk")
	}
	f.flushed = true
}

// openFence reports whether s ends inside a ``` code block.
func openFence(s string) bool {
	return strings.Count(s, "```")%2 == 1
}

// lastSentenceEnd returns the byte position just past the last sentence-ending
// punctuation (. ! ?) that is followed by a space or newline, or -1 when there
// is none past the first 40 bytes.
func lastSentenceEnd(s string) int {
	best := -1
	for i := 0; i < len(s)-1; i++ {
		if (s[i] == '.' || s[i] == '!' || s[i] == '?') &&
			(s[i+1] == ' ' || s[i+1] == '\n') {
			best = i + 1
		}
	}
	if best > 40 {
		return best
	}
	return -1
}
