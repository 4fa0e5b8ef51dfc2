package audio

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/MrWong99/callbroker/pkg/types"
)

// TargetSampleRate and TargetChannels are the fixed normalised format every
// leg's audio is converted to before it reaches the streaming transcriber.
const (
	TargetSampleRate = 16000
	TargetChannels   = 1
)

// ErrUnsupportedCodec is returned by Normaliser.Decode for a codec this build
// has no decoder for.
var ErrUnsupportedCodec = errors.New("audio: unsupported codec")

// Codec identifies the wire encoding of an ingress audio chunk.
type Codec string

const (
	// CodecPCM16 is raw little-endian PCM16, no container.
	CodecPCM16 Codec = "pcm16"

	// CodecWAV is a RIFF/WAV container around PCM16 data.
	CodecWAV Codec = "wav"
)

// Normaliser decodes ingress audio chunks and converts them to the fixed
// 16kHz mono PCM16 format the rest of the pipeline expects. One Normaliser
// is created per leg; it is not safe for concurrent use from multiple
// goroutines (mirrors FormatConverter's per-stream contract).
type Normaliser struct {
	conv FormatConverter
}

// NewNormaliser returns a Normaliser that resamples/downmixes to the fixed
// target format. The source rate and channel count are given per chunk to
// Decode.
func NewNormaliser() *Normaliser {
	return &Normaliser{
		conv: FormatConverter{Target: Format{SampleRate: TargetSampleRate, Channels: TargetChannels}},
	}
}

// Decode turns a wire chunk of the given codec and declared source format
// into a normalised types.AudioFrame. Returns ErrUnsupportedCodec for a
// codec this build cannot decode — see DESIGN.md for which codecs beyond
// pcm16/wav would need an additional decoder dependency.
func (n *Normaliser) Decode(codec Codec, data []byte, srcRate, srcChannels int, ts types.AudioFrame) (types.AudioFrame, error) {
	var pcm []byte
	switch codec {
	case CodecPCM16, "":
		pcm = data
	case CodecWAV:
		decoded, rate, channels, err := decodeWAV(data)
		if err != nil {
			return types.AudioFrame{}, fmt.Errorf("audio: decode wav: %w", err)
		}
		pcm, srcRate, srcChannels = decoded, rate, channels
	default:
		return types.AudioFrame{}, fmt.Errorf("%w: %s", ErrUnsupportedCodec, codec)
	}

	frame := n.conv.Convert(AudioFrame{
		Data:       pcm,
		SampleRate: srcRate,
		Channels:   srcChannels,
		Timestamp:  ts.Timestamp,
	})

	return types.AudioFrame{
		Data:       frame.Data,
		SampleRate: frame.SampleRate,
		Channels:   frame.Channels,
		Timestamp:  frame.Timestamp,
	}, nil
}

// decodeWAV strips a RIFF/WAV container and returns the raw PCM16 data plus
// the sample rate and channel count declared in the fmt sub-chunk. Only PCM
// (audio format 1) WAV files are supported.
func decodeWAV(data []byte) ([]byte, int, int, error) {
	if len(data) < 44 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, 0, 0, errors.New("not a RIFF/WAVE container")
	}

	var (
		channels   int
		sampleRate int
		pcm        []byte
	)

	offset := 12
	for offset+8 <= len(data) {
		chunkID := string(data[offset : offset+4])
		chunkSize := int(binary.LittleEndian.Uint32(data[offset+4 : offset+8]))
		body := offset + 8

		if body+chunkSize > len(data) {
			break
		}

		switch chunkID {
		case "fmt ":
			if chunkSize < 16 {
				return nil, 0, 0, errors.New("fmt chunk too small")
			}
			audioFormat := binary.LittleEndian.Uint16(data[body : body+2])
			if audioFormat != 1 {
				return nil, 0, 0, fmt.Errorf("unsupported WAV audio format %d (only PCM)", audioFormat)
			}
			channels = int(binary.LittleEndian.Uint16(data[body+2 : body+4]))
			sampleRate = int(binary.LittleEndian.Uint32(data[body+4 : body+8]))
		case "data":
			pcm = data[body : body+chunkSize]
		}

		offset = body + chunkSize
		if chunkSize%2 == 1 {
			offset++ // chunks are word-aligned
		}
	}

	if pcm == nil || channels == 0 || sampleRate == 0 {
		return nil, 0, 0, errors.New("missing fmt or data chunk")
	}
	return pcm, sampleRate, channels, nil
}
