package media

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"omnireel/internal/fileutil"
)

// Magic opens every OMR1 container.
const Magic = "OMR1"

const (
	maxHeaderBytes = 1 << 20
	maxFrameBytes  = 64 << 20
	// maxSamples bounds the audio track, a little over 45 minutes at 48kHz.
	maxSamples = 1 << 27
)

// ErrFormat reports a malformed container.
var ErrFormat = errors.New("media: malformed OMR1 container")

type header struct {
	Width      int        `json:"width"`
	Height     int        `json:"height"`
	Channels   int        `json:"channels"`
	FrameRate  float64    `json:"frame_rate"`
	Frames     int        `json:"frames"`
	SampleRate int        `json:"sample_rate"`
	Samples    int        `json:"samples"`
	Speech     []Interval `json:"speech,omitempty"`
}

// Encode writes a as an OMR1 container: magic, big-endian uint32 header
// length, JSON header, raw frames, then little-endian PCM16 samples.
func Encode(w io.Writer, a *Artifact) error {
	if err := a.Validate(); err != nil {
		return fmt.Errorf("encode artifact: %w", err)
	}
	hdr, err := json.Marshal(header{
		Width:      a.Video.Width,
		Height:     a.Video.Height,
		Channels:   a.Video.Channels,
		FrameRate:  a.Video.FrameRate,
		Frames:     len(a.Video.Frames),
		SampleRate: a.Audio.SampleRate,
		Samples:    len(a.Audio.Samples),
		Speech:     a.Speech,
	})
	if err != nil {
		return fmt.Errorf("encode header: %w", err)
	}

	bw := bufio.NewWriter(w)
	if _, err := bw.WriteString(Magic); err != nil {
		return err
	}
	if err := binary.Write(bw, binary.BigEndian, uint32(len(hdr))); err != nil {
		return err
	}
	if _, err := bw.Write(hdr); err != nil {
		return err
	}
	for _, frame := range a.Video.Frames {
		if _, err := bw.Write(frame); err != nil {
			return err
		}
	}
	if err := binary.Write(bw, binary.LittleEndian, a.Audio.Samples); err != nil {
		return err
	}
	return bw.Flush()
}

// Decode reads an OMR1 container.
func Decode(r io.Reader) (*Artifact, error) {
	br := bufio.NewReader(r)
	magic := make([]byte, len(Magic))
	if _, err := io.ReadFull(br, magic); err != nil {
		return nil, fmt.Errorf("%w: read magic: %v", ErrFormat, err)
	}
	if string(magic) != Magic {
		return nil, fmt.Errorf("%w: bad magic %q", ErrFormat, magic)
	}
	var hdrLen uint32
	if err := binary.Read(br, binary.BigEndian, &hdrLen); err != nil {
		return nil, fmt.Errorf("%w: read header length: %v", ErrFormat, err)
	}
	if hdrLen == 0 || hdrLen > maxHeaderBytes {
		return nil, fmt.Errorf("%w: header length %d", ErrFormat, hdrLen)
	}
	raw := make([]byte, hdrLen)
	if _, err := io.ReadFull(br, raw); err != nil {
		return nil, fmt.Errorf("%w: read header: %v", ErrFormat, err)
	}
	var hdr header
	if err := json.Unmarshal(raw, &hdr); err != nil {
		return nil, fmt.Errorf("%w: decode header: %v", ErrFormat, err)
	}
	if hdr.Frames < 0 || hdr.Samples < 0 {
		return nil, fmt.Errorf("%w: negative track length", ErrFormat)
	}
	if hdr.Samples > maxSamples {
		return nil, fmt.Errorf("%w: %d samples exceeds limit %d", ErrFormat, hdr.Samples, maxSamples)
	}

	a := &Artifact{
		Video: Video{
			Width:     hdr.Width,
			Height:    hdr.Height,
			Channels:  hdr.Channels,
			FrameRate: hdr.FrameRate,
		},
		Audio:  Audio{SampleRate: hdr.SampleRate},
		Speech: hdr.Speech,
	}
	if hdr.Frames > 0 {
		size, ok := frameSize(hdr.Width, hdr.Height, hdr.Channels)
		if !ok {
			return nil, fmt.Errorf("%w: frame size %dx%dx%d", ErrFormat, hdr.Width, hdr.Height, hdr.Channels)
		}
		a.Video.Frames = make([][]byte, 0, min(hdr.Frames, 4096))
		for i := 0; i < hdr.Frames; i++ {
			frame := make([]byte, size)
			if _, err := io.ReadFull(br, frame); err != nil {
				return nil, fmt.Errorf("%w: read frame %d: %v", ErrFormat, i, err)
			}
			a.Video.Frames = append(a.Video.Frames, frame)
		}
	}
	if hdr.Samples > 0 {
		pcm := make([]byte, 2*hdr.Samples)
		if _, err := io.ReadFull(br, pcm); err != nil {
			return nil, fmt.Errorf("%w: read audio: %v", ErrFormat, err)
		}
		a.Audio.Samples = make([]int16, hdr.Samples)
		for i := range a.Audio.Samples {
			a.Audio.Samples[i] = int16(binary.LittleEndian.Uint16(pcm[2*i:]))
		}
	}
	if err := a.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFormat, err)
	}
	return a, nil
}

// frameSize multiplies the frame dimensions, failing on non-positive values
// or a product above maxFrameBytes before it can overflow.
func frameSize(width, height, channels int) (int, bool) {
	size := 1
	for _, d := range []int{width, height, channels} {
		if d <= 0 || d > maxFrameBytes/size {
			return 0, false
		}
		size *= d
	}
	return size, true
}

// ReadFile decodes the container at path.
func ReadFile(path string) (*Artifact, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	a, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return a, nil
}

// WriteFile encodes a to path, replacing any existing file atomically.
func WriteFile(path string, a *Artifact) error {
	return fileutil.WriteFileAtomic(path, 0o644, func(w io.Writer) error {
		return Encode(w, a)
	})
}
