package audio

import (
	"encoding/base64"
	"fmt"
)

// DecodeBase64 decodes an inbound audio_chunk payload to raw bytes for the
// STT stream. PCM passes through; WAV is stripped to its PCM16 payload;
// other containers pass through untouched and are not converted (the STT
// stream is opened for raw linear16 audio).
func DecodeBase64(audioB64, format string) ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(audioB64)
	if err != nil {
		return nil, fmt.Errorf("decode audio: %w", err)
	}
	if len(b) == 0 {
		return nil, fmt.Errorf("empty audio payload")
	}
	if format == "wav" {
		pcm, err := StripWAV(b)
		if err != nil {
			return nil, err
		}
		return pcm, nil
	}
	return b, nil
}

// StripWAV returns the raw PCM16 bytes of a WAV body, averaging stereo to
// mono. Only 16-bit PCM is supported.
func StripWAV(b []byte) ([]byte, error) {
	if len(b) < 44 || string(b[0:4]) != "RIFF" || string(b[8:12]) != "WAVE" {
		return nil, fmt.Errorf("not a WAV")
	}
	off := 12
	var dataOff, dataLen int
	var fmtCh uint16
	for off+8 <= len(b) {
		cid := string(b[off : off+4])
		csz := int(uint32(b[off+4]) | uint32(b[off+5])<<8 | uint32(b[off+6])<<16 | uint32(b[off+7])<<24)
		off += 8
		if cid == "fmt " {
			if off+csz > len(b) {
				return nil, fmt.Errorf("bad fmt chunk")
			}
			fmtTag := uint16(b[off]) | uint16(b[off+1])<<8
			fmtCh = uint16(b[off+2]) | uint16(b[off+3])<<8
			bits := uint16(b[off+14]) | uint16(b[off+15])<<8
			if fmtTag != 1 || bits != 16 {
				return nil, fmt.Errorf("unsupported WAV format")
			}
			off += csz
		} else if cid == "data" {
			dataOff = off
			dataLen = csz
			break
		} else {
			off += csz
		}
	}
	if dataOff <= 0 || dataOff+dataLen > len(b) {
		return nil, fmt.Errorf("no data chunk")
	}
	raw := b[dataOff : dataOff+dataLen]
	if fmtCh == 2 {
		// average int16 pairs to mono
		out := make([]byte, dataLen/2)
		for i := 0; i+3 < len(raw); i += 4 {
			a := int16(uint16(raw[i]) | uint16(raw[i+1])<<8)
			c := int16(uint16(raw[i+2]) | uint16(raw[i+3])<<8)
			avg := (int32(a) + int32(c)) / 2
			u := uint16(int16(avg))
			j := i / 2
			out[j] = byte(u & 0xFF)
			out[j+1] = byte(u >> 8)
		}
		raw = out
	}
	return raw, nil
}
