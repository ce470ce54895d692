// Package pngopt re-compresses PNG image data. It re-filters scanlines and
// re-deflates the pixel stream without touching any other chunk, so the
// decoded image is unchanged.
package pngopt

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/zlib"
)

// Optimize re-compresses the image data of a PNG stream using the given tier.
// The result is deterministic for a given input and tier. When no trial beats
// the input, the input is returned unchanged.
func Optimize(data []byte, tier Tier) ([]byte, error) {
	chunks, err := readChunks(data)
	if err != nil {
		return nil, err
	}
	hdr, err := parseHeader(chunks[0])
	if err != nil {
		return nil, err
	}
	if hdr.interlace != 0 {
		return nil, ErrInterlaced
	}

	var compressed bytes.Buffer
	firstIDAT := -1
	for i, c := range chunks {
		if c.typ != "IDAT" {
			continue
		}
		if firstIDAT < 0 {
			firstIDAT = i
		}
		compressed.Write(c.data)
	}
	if firstIDAT < 0 {
		return nil, fmt.Errorf("%w: no IDAT chunk", ErrMalformed)
	}

	rowBytes := hdr.rowBytes()
	filtered, err := inflate(compressed.Bytes(), hdr.height*(rowBytes+1))
	if err != nil {
		return nil, err
	}
	raw, err := unfilter(filtered, rowBytes, hdr.height, hdr.stride())
	if err != nil {
		return nil, err
	}

	idat, err := search(raw, rowBytes, hdr.height, hdr.stride(), tier.trials())
	if err != nil {
		return nil, err
	}

	var out bytes.Buffer
	out.Grow(len(data))
	out.Write(signature)
	for i, c := range chunks {
		switch {
		case i == firstIDAT:
			writeChunk(&out, "IDAT", idat)
		case c.typ == "IDAT":
		default:
			writeChunk(&out, c.typ, c.data)
		}
	}
	if out.Len() >= len(data) {
		return data, nil
	}
	return out.Bytes(), nil
}

// OptimizeFile re-compresses the PNG file at path in place.
func OptimizeFile(path string, tier Tier) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	out, err := Optimize(data, tier)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, out, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// search runs every trial and returns the smallest compressed stream.
// Ties keep the earlier trial.
func search(raw []byte, rowBytes, height, bpp int, trials []trial) ([]byte, error) {
	filtered := make(map[strategy][]byte, len(allStrategies))
	var best []byte
	for _, t := range trials {
		stream, ok := filtered[t.strategy]
		if !ok {
			stream = refilter(raw, rowBytes, height, bpp, t.strategy)
			filtered[t.strategy] = stream
		}
		out, err := deflate(stream, t.level)
		if err != nil {
			return nil, err
		}
		if best == nil || len(out) < len(best) {
			best = out
		}
	}
	return best, nil
}

func inflate(data []byte, want int) ([]byte, error) {
	zr, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	defer zr.Close()

	out, err := io.ReadAll(io.LimitReader(zr, int64(want)+1))
	if err != nil {
		return nil, fmt.Errorf("%w: inflate: %v", ErrMalformed, err)
	}
	if len(out) != want {
		return nil, fmt.Errorf("%w: image data is %d bytes, want %d", ErrMalformed, len(out), want)
	}
	return out, nil
}

func deflate(data []byte, level int) ([]byte, error) {
	var buf bytes.Buffer
	zw, err := zlib.NewWriterLevel(&buf, level)
	if err != nil {
		return nil, fmt.Errorf("deflate level %d: %w", level, err)
	}
	if _, err := zw.Write(data); err != nil {
		return nil, fmt.Errorf("deflate: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("deflate: %w", err)
	}
	return buf.Bytes(), nil
}
