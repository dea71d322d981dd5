// Package audio wraps raw PCM sample data into a RIFF/WAVE container.
//
// The speech endpoint returns bare little-endian PCM with no header, so the
// container is synthesised locally. The output is deterministic: the same
// samples and format always produce the same bytes.
package audio

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"
)

// Speech output format of the Gemini TTS models.
const (
	SpeechSampleRate    = 24000
	SpeechChannels      = 1
	SpeechBitsPerSample = 16
)

// Header layout.
const (
	// HeaderSize is the size of the canonical 44-byte PCM WAV header.
	HeaderSize = 44

	riffChunkBase    = 36
	fmtChunkSize     = 16
	formatPCM        = 1
	bitsPerByte      = 8
	maxSampleRate    = 192000
	maxChannels      = 8
	maxDataChunkSize = math.MaxUint32 - riffChunkBase
)

// Supported sample widths.
const (
	bitDepth8  = 8
	bitDepth16 = 16
	bitDepth24 = 24
	bitDepth32 = 32
)

const (
	errFmtSampleRateRange = "%w: sample rate must be between 1 and %d Hz, got %d"
	errFmtBitDepthValues  = "%w: bits per sample must be 8, 16, 24, or 32, got %d"
	errFmtChannelsRange   = "%w: channels must be between 1 and %d, got %d"
	errFmtDataTooLarge    = "%w: %d bytes of PCM do not fit in a WAV container"
	errFmtDecodeBase64    = "%w: %v"
)

var (
	// ErrInvalidFormat is returned when a PCMFormat is out of range.
	ErrInvalidFormat = errors.New("invalid pcm format")

	// ErrInvalidPCM is returned when the sample data cannot be wrapped.
	ErrInvalidPCM = errors.New("invalid pcm data")

	// ErrDecode is returned when base64 PCM cannot be decoded.
	ErrDecode = errors.New("failed to decode base64 pcm")

	riffTag = []byte("RIFF")
	waveTag = []byte("WAVE")
	fmtTag  = []byte("fmt ")
	dataTag = []byte("data")
)

// PCMFormat describes interleaved integer PCM samples.
type PCMFormat struct {
	SampleRate    int
	Channels      int
	BitsPerSample int
}

// SpeechFormat is the 24 kHz mono 16-bit format returned by the TTS models.
func SpeechFormat() PCMFormat {
	return PCMFormat{
		SampleRate:    SpeechSampleRate,
		Channels:      SpeechChannels,
		BitsPerSample: SpeechBitsPerSample,
	}
}

// BlockAlign is the size in bytes of one frame (one sample per channel).
func (f PCMFormat) BlockAlign() int {
	return f.Channels * f.BitsPerSample / bitsPerByte
}

// ByteRate is the number of bytes per second of audio.
func (f PCMFormat) ByteRate() int {
	return f.SampleRate * f.BlockAlign()
}

// Validate checks that the format can be written into a WAV header.
func (f PCMFormat) Validate() error {
	if f.SampleRate <= 0 || f.SampleRate > maxSampleRate {
		return fmt.Errorf(errFmtSampleRateRange, ErrInvalidFormat, maxSampleRate, f.SampleRate)
	}

	switch f.BitsPerSample {
	case bitDepth8, bitDepth16, bitDepth24, bitDepth32:
	default:
		return fmt.Errorf(errFmtBitDepthValues, ErrInvalidFormat, f.BitsPerSample)
	}

	if f.Channels <= 0 || f.Channels > maxChannels {
		return fmt.Errorf(errFmtChannelsRange, ErrInvalidFormat, maxChannels, f.Channels)
	}

	return nil
}

// Duration returns the playback length of dataSize bytes of PCM.
func (f PCMFormat) Duration(dataSize int) time.Duration {
	byteRate := f.ByteRate()
	if byteRate == 0 {
		return 0
	}

	return time.Duration(float64(dataSize) / float64(byteRate) * float64(time.Second))
}

// EncodeWAV returns pcm prefixed with a 44-byte WAV header built from format.
// Sizes follow the canonical layout: RIFF chunk size is 36+len(pcm) and the
// data chunk size is len(pcm).
func EncodeWAV(pcm []byte, format PCMFormat) ([]byte, error) {
	formatErr := format.Validate()
	if formatErr != nil {
		return nil, formatErr
	}

	dataSize := len(pcm)
	if uint64(dataSize) > maxDataChunkSize {
		return nil, fmt.Errorf(errFmtDataTooLarge, ErrInvalidPCM, dataSize)
	}

	buf := bytes.NewBuffer(make([]byte, 0, HeaderSize+dataSize))

	buf.Write(riffTag)
	writeUint32(buf, uint32(riffChunkBase+dataSize))
	buf.Write(waveTag)

	buf.Write(fmtTag)
	writeUint32(buf, fmtChunkSize)
	writeUint16(buf, formatPCM)
	writeUint16(buf, uint16(format.Channels))
	writeUint32(buf, uint32(format.SampleRate))
	writeUint32(buf, uint32(format.ByteRate()))
	writeUint16(buf, uint16(format.BlockAlign()))
	writeUint16(buf, uint16(format.BitsPerSample))

	buf.Write(dataTag)
	writeUint32(buf, uint32(dataSize))
	buf.Write(pcm)

	return buf.Bytes(), nil
}

// DecodeBase64PCM decodes the standard base64 payload of an inline audio
// part into raw PCM bytes.
func DecodeBase64PCM(encoded string) ([]byte, error) {
	pcm, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf(errFmtDecodeBase64, ErrDecode, err)
	}

	return pcm, nil
}

// SpeechWAVFromBase64 decodes a base64 speech payload and wraps it in a WAV
// container using SpeechFormat.
func SpeechWAVFromBase64(encoded string) ([]byte, error) {
	pcm, err := DecodeBase64PCM(encoded)
	if err != nil {
		return nil, err
	}

	return EncodeWAV(pcm, SpeechFormat())
}

func writeUint32(buf *bytes.Buffer, value uint32) {
	var scratch [4]byte

	binary.LittleEndian.PutUint32(scratch[:], value)
	buf.Write(scratch[:])
}

func writeUint16(buf *bytes.Buffer, value uint16) {
	var scratch [2]byte

	binary.LittleEndian.PutUint16(scratch[:], value)
	buf.Write(scratch[:])
}
