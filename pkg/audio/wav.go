package audio

import (
	"errors"
	"fmt"
	"io"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// ErrInvalidWAV is returned by [DecodeWAV] when the input is not a PCM WAV file.
var ErrInvalidWAV = errors.New("audio: invalid wav file")

// EncodeWAV converts 24-bit working samples to 16-bit mono PCM and wraps them
// in a RIFF/WAV container at sampleRate. The returned bytes are ready for
// upload.
func EncodeWAV(samples []int32, sampleRate int) ([]byte, error) {
	pcm16 := make([]int16, len(samples))
	To16(pcm16, samples)

	data := make([]int, len(pcm16))
	for i, s := range pcm16 {
		data[i] = int(s)
	}

	ws := &writeSeeker{}
	enc := wav.NewEncoder(ws, sampleRate, 16, Channels, 1)
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: Channels, SampleRate: sampleRate},
		Data:           data,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		return nil, fmt.Errorf("audio: encode wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("audio: finalise wav: %w", err)
	}
	return ws.buf, nil
}

// DecodeWAV reads a PCM WAV file and returns its first channel rescaled to the
// 24-bit working range, together with the file's sample rate.
func DecodeWAV(r io.ReadSeeker) ([]int32, int, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return nil, 0, ErrInvalidWAV
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, 0, fmt.Errorf("audio: decode wav: %w", err)
	}
	chans := int(dec.NumChans)
	if chans <= 0 {
		chans = 1
	}
	depth := int(dec.BitDepth)

	out := make([]int32, len(buf.Data)/chans)
	for i := range out {
		s := int32(buf.Data[i*chans])
		switch {
		case depth < BitWidth:
			s <<= uint(BitWidth - depth)
		case depth > BitWidth:
			s >>= uint(depth - BitWidth)
		}
		out[i] = s
	}
	return out, int(dec.SampleRate), nil
}

// writeSeeker is an in-memory io.WriteSeeker; the wav encoder seeks back to
// patch chunk sizes on Close.
type writeSeeker struct {
	buf []byte
	pos int
}

func (w *writeSeeker) Write(p []byte) (int, error) {
	end := w.pos + len(p)
	if end > len(w.buf) {
		if end > cap(w.buf) {
			grown := make([]byte, end, 2*end)
			copy(grown, w.buf)
			w.buf = grown
		} else {
			w.buf = w.buf[:end]
		}
	}
	copy(w.buf[w.pos:], p)
	w.pos = end
	return len(p), nil
}

func (w *writeSeeker) Seek(offset int64, whence int) (int64, error) {
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = int64(w.pos) + offset
	case io.SeekEnd:
		abs = int64(len(w.buf)) + offset
	default:
		return 0, errors.New("audio: invalid whence")
	}
	if abs < 0 {
		return 0, errors.New("audio: negative position")
	}
	w.pos = int(abs)
	return abs, nil
}
