package media

import (
	"fmt"
	"io"
	"math"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// WAV format tags of integer PCM payloads.
const (
	wavFormatPCM        = 1
	wavFormatExtensible = 0xFFFE
)

// Decoder loads a WAV file as mono float32 samples at a fixed rate.
type Decoder struct{}

// DecodeFile reads path, normalizes integer PCM to [-1, 1], averages all
// channels into one and resamples to targetRate. Unreadable payloads and
// non-integer encodings fail with ErrUnsupportedFormat.
func (Decoder) DecodeFile(path string, targetRate int) ([]float32, error) {
	if targetRate <= 0 {
		return nil, fmt.Errorf("invalid target rate %d", targetRate)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open wav: %w", err)
	}
	defer f.Close()

	if !wav.NewDecoder(f).IsValidFile() {
		return nil, fmt.Errorf("%w: invalid wav header", ErrUnsupportedFormat)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("rewind wav: %w", err)
	}
	dec := wav.NewDecoder(f)
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("%w: decode wav: %v", ErrUnsupportedFormat, err)
	}
	if f := dec.WavAudioFormat; f != wavFormatPCM && f != wavFormatExtensible {
		return nil, fmt.Errorf("%w: wav format tag %d is not integer pcm", ErrUnsupportedFormat, f)
	}

	channels := int(dec.NumChans)
	if buf.Format != nil && buf.Format.NumChannels > 0 {
		channels = buf.Format.NumChannels
	}
	if channels <= 0 {
		channels = 1
	}
	rate := int(dec.SampleRate)
	if buf.Format != nil && buf.Format.SampleRate > 0 {
		rate = buf.Format.SampleRate
	}

	mono := downmix(buf.Data, channels, int(dec.BitDepth))
	return Resample(mono, rate, targetRate), nil
}

// downmix averages interleaved frames. 8-bit PCM is unsigned and centred
// on 128; every wider depth is signed.
func downmix(data []int, channels, bitDepth int) []float32 {
	if bitDepth <= 0 {
		bitDepth = 16
	}
	scale := float64(int64(1) << (bitDepth - 1))
	var offset float64
	if bitDepth == 8 {
		offset = 128
	}
	frames := len(data) / channels
	out := make([]float32, frames)
	for i := 0; i < frames; i++ {
		var sum float64
		for c := 0; c < channels; c++ {
			sum += float64(data[i*channels+c]) - offset
		}
		v := sum / float64(channels) / scale
		out[i] = float32(math.Max(-1, math.Min(1, v)))
	}
	return out
}

// Resample converts samples between rates with linear interpolation.
func Resample(samples []float32, from, to int) []float32 {
	if from == to || from <= 0 || len(samples) == 0 {
		return samples
	}
	n := int(int64(len(samples)) * int64(to) / int64(from))
	out := make([]float32, n)
	ratio := float64(from) / float64(to)
	last := len(samples) - 1
	for i := range out {
		pos := float64(i) * ratio
		idx := int(pos)
		if idx >= last {
			out[i] = samples[last]
			continue
		}
		frac := float32(pos - float64(idx))
		out[i] = samples[idx] + (samples[idx+1]-samples[idx])*frac
	}
	return out
}

// WriteWAV stores mono float samples as 16-bit PCM.
func WriteWAV(path string, samples []float32, sampleRate int) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create wav: %w", err)
	}
	if err := EncodeWAV(file, samples, sampleRate); err != nil {
		file.Close()
		os.Remove(path)
		return err
	}
	return file.Close()
}

// EncodeWAV writes mono float samples to w as 16-bit PCM.
func EncodeWAV(w io.WriteSeeker, samples []float32, sampleRate int) error {
	buffer := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: sampleRate},
		SourceBitDepth: 16,
		Data:           make([]int, len(samples)),
	}
	for i, s := range samples {
		v := math.Max(-1, math.Min(1, float64(s)))
		buffer.Data[i] = int(v * math.MaxInt16)
	}

	enc := wav.NewEncoder(w, sampleRate, 16, 1, 1)
	if err := enc.Write(buffer); err != nil {
		return fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("close wav encoder: %w", err)
	}
	return nil
}
