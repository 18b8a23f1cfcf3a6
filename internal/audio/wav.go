package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/go-audio/wav"
)

// EncodeWAV wraps raw little-endian PCM in a minimal 44-byte WAV container.
func EncodeWAV(pcm []byte, sampleRate, channels, bitDepth int) []byte {
	var buf bytes.Buffer
	buf.Grow(44 + len(pcm))
	writeWAVHeader(&buf, len(pcm), sampleRate, channels, bitDepth)
	buf.Write(pcm)
	return buf.Bytes()
}

func writeWAVHeader(buf *bytes.Buffer, dataSize, sampleRate, channels, bitDepth int) {
	blockAlign := channels * bitDepth / 8
	byteRate := sampleRate * blockAlign

	buf.WriteString("RIFF")
	binary.Write(buf, binary.LittleEndian, uint32(36+dataSize))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(buf, binary.LittleEndian, uint32(16)) // sub-chunk size
	binary.Write(buf, binary.LittleEndian, uint16(1))  // PCM format
	binary.Write(buf, binary.LittleEndian, uint16(channels))
	binary.Write(buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(buf, binary.LittleEndian, uint32(byteRate))
	binary.Write(buf, binary.LittleEndian, uint16(blockAlign))
	binary.Write(buf, binary.LittleEndian, uint16(bitDepth))

	buf.WriteString("data")
	binary.Write(buf, binary.LittleEndian, uint32(dataSize))
}

// DecodePCM extracts 16-bit little-endian PCM samples from WAV data. Input
// that is already headerless raw PCM is returned as-is.
func DecodePCM(data []byte) ([]byte, error) {
	if len(data) < 12 || !bytes.HasPrefix(data, []byte("RIFF")) {
		return data, nil
	}

	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return nil, errors.New("invalid wav data")
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("decode wav: %w", err)
	}

	out := make([]byte, 0, len(buf.Data)*2)
	var tmp [2]byte
	for _, s := range buf.Data {
		binary.LittleEndian.PutUint16(tmp[:], uint16(int16(s)))
		out = append(out, tmp[0], tmp[1])
	}
	return out, nil
}
