package tts

import "encoding/binary"

// wavHeader builds a 44-byte RIFF/WAVE header for 16-bit mono PCM of the
// given payload length.
func wavHeader(dataLen, sampleRate int) []byte {
	const (
		numChannels   = 1
		bitsPerSample = 16
	)
	byteRate := sampleRate * numChannels * bitsPerSample / 8
	blockAlign := numChannels * bitsPerSample / 8

	h := make([]byte, 44)
	copy(h[0:4], "RIFF")
	binary.LittleEndian.PutUint32(h[4:8], uint32(36+dataLen))
	copy(h[8:12], "WAVE")
	copy(h[12:16], "fmt ")
	binary.LittleEndian.PutUint32(h[16:20], 16) // PCM fmt chunk size
	binary.LittleEndian.PutUint16(h[20:22], 1)  // PCM
	binary.LittleEndian.PutUint16(h[22:24], numChannels)
	binary.LittleEndian.PutUint32(h[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(h[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(h[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(h[34:36], bitsPerSample)
	copy(h[36:40], "data")
	binary.LittleEndian.PutUint32(h[40:44], uint32(dataLen))
	return h
}

// extensionFor maps an output codec to the artifact file extension the PBX
// recognizes.
func extensionFor(codec string) string {
	switch codec {
	case "pcm16", "pcm", "slin", "slin16":
		return ".wav"
	case "g711_ulaw", "ulaw":
		return ".ulaw"
	case "mp3":
		return ".mp3"
	case "opus":
		return ".opus"
	default:
		return ".raw"
	}
}
