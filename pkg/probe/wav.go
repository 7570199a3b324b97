package probe

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/jdziat/badc/pkg/core"
)

const (
	formatPCM        = 1
	formatFloat      = 3
	formatExtensible = 0xFFFE
)

// ReadWAV reads the format and data chunk sizes of a RIFF/WAVE file.
func ReadWAV(path string) (core.AudioMetadata, error) {
	f, err := os.Open(path)
	if err != nil {
		return core.AudioMetadata{}, err
	}
	defer f.Close()

	meta, err := ParseWAV(f)
	if err != nil {
		return core.AudioMetadata{}, fmt.Errorf("%s: %w", path, err)
	}
	return meta, nil
}

// ParseWAV reads WAV metadata from r without loading sample data.
func ParseWAV(r io.ReadSeeker) (core.AudioMetadata, error) {
	var header [12]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return core.AudioMetadata{}, fmt.Errorf("%w: short header", core.ErrInvalidWAV)
	}
	if string(header[0:4]) != "RIFF" || string(header[8:12]) != "WAVE" {
		return core.AudioMetadata{}, fmt.Errorf("%w: missing RIFF/WAVE signature", core.ErrInvalidWAV)
	}

	var (
		meta      core.AudioMetadata
		blockSize int
		haveFmt   bool
		dataSize  int64 = -1
	)
	for dataSize < 0 {
		var chunk [8]byte
		if _, err := io.ReadFull(r, chunk[:]); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				break
			}
			return core.AudioMetadata{}, err
		}
		id := string(chunk[0:4])
		size := int64(binary.LittleEndian.Uint32(chunk[4:8]))

		switch id {
		case "fmt ":
			if size < 16 {
				return core.AudioMetadata{}, fmt.Errorf("%w: fmt chunk too small", core.ErrInvalidWAV)
			}
			body := make([]byte, size)
			if _, err := io.ReadFull(r, body); err != nil {
				return core.AudioMetadata{}, fmt.Errorf("%w: truncated fmt chunk", core.ErrInvalidWAV)
			}
			format := binary.LittleEndian.Uint16(body[0:2])
			if format == formatExtensible && size >= 26 {
				format = binary.LittleEndian.Uint16(body[24:26])
			}
			if format != formatPCM && format != formatFloat {
				return core.AudioMetadata{}, fmt.Errorf("%w: unsupported format tag %#x", core.ErrInvalidWAV, format)
			}
			meta.Channels = int(binary.LittleEndian.Uint16(body[2:4]))
			meta.SampleRate = int(binary.LittleEndian.Uint32(body[4:8]))
			blockSize = int(binary.LittleEndian.Uint16(body[12:14]))
			meta.SampleWidthBytes = (int(binary.LittleEndian.Uint16(body[14:16])) + 7) / 8
			haveFmt = true
			if size%2 == 1 {
				if _, err := r.Seek(1, io.SeekCurrent); err != nil {
					return core.AudioMetadata{}, err
				}
			}
		case "data":
			dataSize = size
		default:
			// Chunks are word aligned.
			if _, err := r.Seek(size+size%2, io.SeekCurrent); err != nil {
				return core.AudioMetadata{}, err
			}
		}
	}

	if !haveFmt {
		return core.AudioMetadata{}, fmt.Errorf("%w: missing fmt chunk", core.ErrInvalidWAV)
	}
	if dataSize < 0 {
		return core.AudioMetadata{}, fmt.Errorf("%w: missing data chunk", core.ErrInvalidWAV)
	}
	if blockSize == 0 {
		blockSize = meta.Channels * meta.SampleWidthBytes
	}
	if blockSize > 0 && meta.SampleRate > 0 {
		frames := dataSize / int64(blockSize)
		meta.DurationSeconds = float64(frames) / float64(meta.SampleRate)
	}
	return meta, nil
}
