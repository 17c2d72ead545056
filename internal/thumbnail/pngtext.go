package thumbnail

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
)

var pngSignature = []byte("\x89PNG\r\n\x1a\n")

var errNotPNG = errors.New("not a png stream")

// textEntry is one tEXt chunk: a Latin-1 keyword and its value.
type textEntry struct {
	key   string
	value string
}

// insertText returns data with a tEXt chunk per entry placed right after
// IHDR. image/png does not write ancillary text chunks.
func insertText(data []byte, entries []textEntry) ([]byte, error) {
	if !bytes.HasPrefix(data, pngSignature) || len(data) < len(pngSignature)+8 {
		return nil, errNotPNG
	}
	ihdrLen := int(binary.BigEndian.Uint32(data[8:12]))
	if string(data[12:16]) != "IHDR" {
		return nil, fmt.Errorf("%w: first chunk is %q", errNotPNG, data[12:16])
	}
	cut := len(pngSignature) + 12 + ihdrLen
	if cut > len(data) {
		return nil, fmt.Errorf("%w: truncated IHDR", errNotPNG)
	}

	var out bytes.Buffer
	out.Grow(len(data) + 64*len(entries))
	out.Write(data[:cut])
	for _, e := range entries {
		if e.key == "" || len(e.key) > 79 || bytes.IndexByte([]byte(e.key), 0) >= 0 {
			return nil, fmt.Errorf("invalid png text keyword %q", e.key)
		}
		payload := make([]byte, 0, len(e.key)+1+len(e.value))
		payload = append(payload, e.key...)
		payload = append(payload, 0)
		payload = append(payload, e.value...)
		writeChunk(&out, "tEXt", payload)
	}
	out.Write(data[cut:])
	return out.Bytes(), nil
}

func writeChunk(w *bytes.Buffer, typ string, payload []byte) {
	var header [8]byte
	binary.BigEndian.PutUint32(header[:4], uint32(len(payload)))
	copy(header[4:], typ)
	w.Write(header[:])
	w.Write(payload)
	crc := crc32.NewIEEE()
	crc.Write(header[4:])
	crc.Write(payload)
	var sum [4]byte
	binary.BigEndian.PutUint32(sum[:], crc.Sum32())
	w.Write(sum[:])
}

// readText returns the tEXt chunks of a png stream. Chunks after IDAT are
// not inspected.
func readText(data []byte) (map[string]string, error) {
	if !bytes.HasPrefix(data, pngSignature) {
		return nil, errNotPNG
	}
	out := map[string]string{}
	pos := len(pngSignature)
	for pos+8 <= len(data) {
		length := int(binary.BigEndian.Uint32(data[pos : pos+4]))
		typ := string(data[pos+4 : pos+8])
		end := pos + 12 + length
		if length < 0 || end > len(data) {
			return nil, fmt.Errorf("%w: truncated %s chunk", errNotPNG, typ)
		}
		switch typ {
		case "tEXt":
			payload := data[pos+8 : pos+8+length]
			if i := bytes.IndexByte(payload, 0); i > 0 {
				out[string(payload[:i])] = string(payload[i+1:])
			}
		case "IDAT", "IEND":
			return out, nil
		}
		pos = end
	}
	return out, nil
}
