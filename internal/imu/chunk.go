package imu

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"
)

// SchemaVersion tags the chunk wire format. Bumped whenever the field set
// or the allowed file purposes change.
const SchemaVersion = "imu.chunk.v1"

// ChunkHeader is the first line of every chunk file.
type ChunkHeader struct {
	SchemaVersion  string    `json:"schema_version"`
	SessionID      string    `json:"session_id"`
	UserID         string    `json:"user_id"`
	DeviceID       string    `json:"device_id"`
	StartTimeUTC   time.Time `json:"start_time_utc"`
	NominalHz      float64   `json:"nominal_hz"`
	CoordFrame     string    `json:"coord_frame"`
	GravityRemoved bool      `json:"gravity_removed"`
	ChunkIndex     int       `json:"chunk_index"`
	SampleCount    int       `json:"sample_count"`
}

var ErrSchemaVersion = errors.New("unsupported chunk schema version")

// WriteChunk encodes a header line followed by one NDJSON record per sample.
func WriteChunk(w io.Writer, header ChunkHeader, samples []Sample) error {
	header.SchemaVersion = SchemaVersion
	header.SampleCount = len(samples)

	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)
	if err := enc.Encode(header); err != nil {
		return fmt.Errorf("encode chunk header: %w", err)
	}
	for i := range samples {
		if err := enc.Encode(&samples[i]); err != nil {
			return fmt.Errorf("encode sample %d: %w", i, err)
		}
	}
	return bw.Flush()
}

// ReadChunk decodes a chunk written by WriteChunk.
func ReadChunk(r io.Reader) (ChunkHeader, []Sample, error) {
	dec := json.NewDecoder(bufio.NewReader(r))

	var header ChunkHeader
	if err := dec.Decode(&header); err != nil {
		return ChunkHeader{}, nil, fmt.Errorf("decode chunk header: %w", err)
	}
	if header.SchemaVersion != SchemaVersion {
		return ChunkHeader{}, nil, fmt.Errorf("%w: %q", ErrSchemaVersion, header.SchemaVersion)
	}

	samples := make([]Sample, 0, header.SampleCount)
	for {
		var s Sample
		if err := dec.Decode(&s); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return ChunkHeader{}, nil, fmt.Errorf("decode sample %d: %w", len(samples), err)
		}
		samples = append(samples, s)
	}
	return header, samples, nil
}
