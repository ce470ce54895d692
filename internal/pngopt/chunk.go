package pngopt

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
)

var (
	// ErrNotPNG is returned when the input does not start with the PNG signature.
	ErrNotPNG = errors.New("not a PNG stream")
	// ErrChecksum is returned when a chunk CRC does not match its contents.
	ErrChecksum = errors.New("chunk checksum mismatch")
	// ErrInterlaced is returned for Adam7 interlaced images.
	ErrInterlaced = errors.New("interlaced PNG is not supported")
	// ErrMalformed is returned for structurally invalid streams.
	ErrMalformed = errors.New("malformed PNG stream")
)

var signature = []byte("\x89PNG\r\n\x1a\n")

type chunk struct {
	typ  string
	data []byte
}

func readChunks(data []byte) ([]chunk, error) {
	if !bytes.HasPrefix(data, signature) {
		return nil, ErrNotPNG
	}
	data = data[len(signature):]

	var chunks []chunk
	for len(data) > 0 {
		if len(data) < 12 {
			return nil, fmt.Errorf("%w: truncated chunk header", ErrMalformed)
		}
		n := binary.BigEndian.Uint32(data[:4])
		if uint64(n)+12 > uint64(len(data)) {
			return nil, fmt.Errorf("%w: chunk length %d exceeds stream", ErrMalformed, n)
		}
		typ := string(data[4:8])
		body := data[8 : 8+n]
		sum := binary.BigEndian.Uint32(data[8+n : 12+n])
		if crc32.ChecksumIEEE(data[4:8+n]) != sum {
			return nil, fmt.Errorf("%w: %s", ErrChecksum, typ)
		}
		chunks = append(chunks, chunk{typ: typ, data: body})
		data = data[12+n:]
		if typ == "IEND" {
			break
		}
	}

	if len(chunks) == 0 || chunks[0].typ != "IHDR" {
		return nil, fmt.Errorf("%w: missing IHDR", ErrMalformed)
	}
	if chunks[len(chunks)-1].typ != "IEND" {
		return nil, fmt.Errorf("%w: missing IEND", ErrMalformed)
	}
	return chunks, nil
}

func writeChunk(buf *bytes.Buffer, typ string, data []byte) {
	var word [4]byte
	binary.BigEndian.PutUint32(word[:], uint32(len(data)))
	buf.Write(word[:])

	crc := crc32.NewIEEE()
	crc.Write([]byte(typ))
	crc.Write(data)
	buf.WriteString(typ)
	buf.Write(data)
	binary.BigEndian.PutUint32(word[:], crc.Sum32())
	buf.Write(word[:])
}

type header struct {
	width     int
	height    int
	bitDepth  int
	colorType int
	interlace int
}

func parseHeader(c chunk) (header, error) {
	if c.typ != "IHDR" || len(c.data) != 13 {
		return header{}, fmt.Errorf("%w: bad IHDR", ErrMalformed)
	}
	h := header{
		width:     int(binary.BigEndian.Uint32(c.data[0:4])),
		height:    int(binary.BigEndian.Uint32(c.data[4:8])),
		bitDepth:  int(c.data[8]),
		colorType: int(c.data[9]),
		interlace: int(c.data[12]),
	}
	if h.width <= 0 || h.height <= 0 {
		return header{}, fmt.Errorf("%w: zero dimension", ErrMalformed)
	}
	if h.channels() == 0 {
		return header{}, fmt.Errorf("%w: color type %d", ErrMalformed, h.colorType)
	}
	return h, nil
}

func (h header) channels() int {
	switch h.colorType {
	case 0, 3:
		return 1
	case 2:
		return 3
	case 4:
		return 2
	case 6:
		return 4
	default:
		return 0
	}
}

func (h header) bitsPerPixel() int {
	return h.channels() * h.bitDepth
}

func (h header) rowBytes() int {
	return (h.width*h.bitsPerPixel() + 7) / 8
}

// stride is the distance in bytes to the corresponding byte of the
// previous pixel, at least 1 for sub-byte depths.
func (h header) stride() int {
	return max(h.bitsPerPixel()/8, 1)
}
