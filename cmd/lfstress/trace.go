package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Codec selects the compression of a trace file.
type Codec string

const (
	CodecNone Codec = "none"
	CodecZstd Codec = "zstd"
	CodecLZ4  Codec = "lz4"
)

// ParseCodec parses a codec name. The empty string means CodecNone.
func ParseCodec(s string) (Codec, error) {
	switch c := Codec(strings.ToLower(s)); c {
	case "", CodecNone:
		return CodecNone, nil
	case CodecZstd, CodecLZ4:
		return c, nil
	default:
		return "", fmt.Errorf("unknown trace codec %q (want none, zstd or lz4)", s)
	}
}

// codecFromPath guesses the codec from a file extension.
func codecFromPath(path string) Codec {
	switch {
	case strings.HasSuffix(path, ".zst"), strings.HasSuffix(path, ".zstd"):
		return CodecZstd
	case strings.HasSuffix(path, ".lz4"):
		return CodecLZ4
	default:
		return CodecNone
	}
}

// Event is one traced allocator operation.
type Event struct {
	Worker int     `json:"w"`
	Seq    int     `json:"seq"`
	Op     string  `json:"op"`
	Size   uintptr `json:"size,omitempty"`
	Ptr    uintptr `json:"ptr,omitempty"`
	Err    string  `json:"err,omitempty"`
}

// TraceWriter writes events as JSON lines, optionally compressed. It is safe
// for concurrent use.
type TraceWriter struct {
	mu   sync.Mutex
	enc  *json.Encoder
	buf  *bufio.Writer
	comp io.WriteCloser // nil for CodecNone
	file io.Closer
}

// CreateTrace creates a trace file at path.
func CreateTrace(path string, codec Codec) (*TraceWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create trace: %w", err)
	}

	tw, err := NewTraceWriter(f, codec)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	tw.file = f

	return tw, nil
}

// NewTraceWriter writes a trace to w.
func NewTraceWriter(w io.Writer, codec Codec) (*TraceWriter, error) {
	tw := &TraceWriter{}

	switch codec {
	case CodecNone, "":
	case CodecZstd:
		zw, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
		}
		tw.comp, w = zw, zw
	case CodecLZ4:
		lw := lz4.NewWriter(w)
		if err := lw.Apply(lz4.CompressionLevelOption(lz4.Fast)); err != nil {
			return nil, fmt.Errorf("failed to configure lz4 encoder: %w", err)
		}
		tw.comp, w = lw, lw
	default:
		return nil, fmt.Errorf("unknown trace codec %q", codec)
	}

	tw.buf = bufio.NewWriter(w)
	tw.enc = json.NewEncoder(tw.buf)

	return tw, nil
}

// Write appends one event.
func (tw *TraceWriter) Write(ev Event) error {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	return tw.enc.Encode(ev)
}

// Close flushes the trace and closes the underlying file, if any.
func (tw *TraceWriter) Close() error {
	tw.mu.Lock()
	defer tw.mu.Unlock()

	err := tw.buf.Flush()
	if tw.comp != nil {
		err = errors.Join(err, tw.comp.Close())
	}
	if tw.file != nil {
		err = errors.Join(err, tw.file.Close())
	}
	return err
}

// ReadTrace decodes every event of a trace, calling fn for each.
func ReadTrace(r io.Reader, codec Codec, fn func(Event) error) error {
	switch codec {
	case CodecNone, "":
	case CodecZstd:
		zr, err := zstd.NewReader(r)
		if err != nil {
			return fmt.Errorf("failed to create zstd decoder: %w", err)
		}
		defer zr.Close()
		r = zr
	case CodecLZ4:
		r = lz4.NewReader(r)
	default:
		return fmt.Errorf("unknown trace codec %q", codec)
	}

	dec := json.NewDecoder(bufio.NewReader(r))
	for {
		var ev Event
		if err := dec.Decode(&ev); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("failed to decode trace: %w", err)
		}
		if err := fn(ev); err != nil {
			return err
		}
	}
}
