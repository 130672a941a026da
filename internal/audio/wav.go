package audio

import (
	"bytes"
	"encoding/binary"
)

const wavHeaderSize = 44

// PCMToContainer wraps raw PCM in a canonical RIFF/WAVE header so recognition
// endpoints can detect the format without out-of-band parameters.
func PCMToContainer(pcm []byte, sampleRate, channels, sampleWidth int) []byte {
	if channels <= 0 {
		channels = 1
	}
	if sampleWidth <= 0 {
		sampleWidth = SampleWidth
	}
	blockAlign := channels * sampleWidth
	byteRate := sampleRate * blockAlign

	var buf bytes.Buffer
	buf.Grow(wavHeaderSize + len(pcm))
	buf.WriteString("RIFF")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(36+len(pcm)))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(16))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(1)) // PCM
	_ = binary.Write(&buf, binary.LittleEndian, uint16(channels))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(sampleRate))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(byteRate))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(blockAlign))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(sampleWidth*8))

	buf.WriteString("data")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(len(pcm)))
	buf.Write(pcm)
	return buf.Bytes()
}
