package capture

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/KLayOnStudio/dojogo-sub000/internal/imu"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSamples(n int, startSeq int64) []imu.Sample {
	samples := make([]imu.Sample, n)
	for i := range samples {
		samples[i] = imu.Sample{
			TimestampNs: (startSeq + int64(i)) * 10_000_000,
			Sequence:    startSeq + int64(i),
			Accel:       imu.Vec3{X: 0.1},
			Gyro:        imu.Vec3{Y: 0.05},
		}
	}
	return samples
}

func testState() SessionState {
	return SessionState{
		ClientUploadID: "upload-abc",
		DeviceInfo:     ingestDevice(),
		StartTimeUTC:   time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
		NominalHz:      100,
		CoordFrame:     "device",
		GravityRemoved: true,
	}
}

func TestChunkStoreWriteAndReload(t *testing.T) {
	root := t.TempDir()
	cs, err := NewChunkStore(root, testState())
	require.NoError(t, err)
	require.NoError(t, cs.SetSession("sess-1", "user-1", "dev-1"))

	first, err := cs.WriteChunk(testSamples(100, 0))
	require.NoError(t, err)
	second, err := cs.WriteChunk(testSamples(40, 100))
	require.NoError(t, err)

	assert.Equal(t, "chunk_000.ndjson", first.Name)
	assert.Equal(t, "chunk_001.ndjson", second.Name)
	assert.Equal(t, int64(100), first.NumSamples)

	// The recorded size and checksum describe the bytes on disk exactly.
	raw, err := os.ReadFile(filepath.Join(cs.Dir(), first.Name))
	require.NoError(t, err)
	assert.Equal(t, int64(len(raw)), first.BytesSize)
	sum := sha256.Sum256(raw)
	assert.Equal(t, hex.EncodeToString(sum[:]), first.SHA256Hex)

	samples, err := cs.ReadChunkSamples(second.Name)
	require.NoError(t, err)
	require.Len(t, samples, 40)
	assert.Equal(t, int64(100), samples[0].Sequence)

	// A fresh open sees the same work queue.
	reopened, err := OpenChunkStore(cs.Dir())
	require.NoError(t, err)
	assert.Equal(t, "sess-1", reopened.State().SessionID)
	assert.Len(t, reopened.Pending(), 2)
}

func TestChunkStoreMarkUploaded(t *testing.T) {
	cs, err := NewChunkStore(t.TempDir(), testState())
	require.NoError(t, err)

	rec, err := cs.WriteChunk(testSamples(10, 0))
	require.NoError(t, err)
	_, err = cs.WriteAux("device.json", imu.PurposeDevice, []byte("{}"))
	require.NoError(t, err)

	require.NoError(t, cs.MarkUploaded(rec.Name))
	pending := cs.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, "device.json", pending[0].Name)

	// Upload progress survives a restart.
	reopened, err := OpenChunkStore(cs.Dir())
	require.NoError(t, err)
	assert.Len(t, reopened.Pending(), 1)

	assert.Error(t, cs.MarkUploaded("no-such-file"))
}

func TestChunkStoreManifest(t *testing.T) {
	cs, err := NewChunkStore(t.TempDir(), testState())
	require.NoError(t, err)

	_, err = cs.WriteChunk(testSamples(25, 0))
	require.NoError(t, err)
	_, err = cs.WriteAux("events.json", imu.PurposeEvents, []byte("[]"))
	require.NoError(t, err)

	manifest := cs.Manifest()
	require.Len(t, manifest, 2)
	assert.Equal(t, imu.PurposeRaw, manifest[0].Purpose)
	assert.Equal(t, "application/x-ndjson", manifest[0].ContentType)
	require.NotNil(t, manifest[0].NumSamples)
	assert.Equal(t, int64(25), *manifest[0].NumSamples)
	assert.Equal(t, "application/json", manifest[1].ContentType)
	assert.Nil(t, manifest[1].NumSamples)
}

func TestChunkStoreRejectsBadAux(t *testing.T) {
	cs, err := NewChunkStore(t.TempDir(), testState())
	require.NoError(t, err)
	_, err = cs.WriteAux("x.bin", "video", []byte("x"))
	assert.Error(t, err)
}

func TestOpenChunkStoreCorrupt(t *testing.T) {
	dir := t.TempDir()
	_, err := OpenChunkStore(dir)
	assert.Error(t, err, "missing state.json")

	require.NoError(t, os.WriteFile(filepath.Join(dir, stateFilename), []byte("{not json"), 0o644))
	_, err = OpenChunkStore(dir)
	assert.Error(t, err)
}

func TestChunkStoreDiscard(t *testing.T) {
	cs, err := NewChunkStore(t.TempDir(), testState())
	require.NoError(t, err)
	_, err = cs.WriteChunk(testSamples(5, 0))
	require.NoError(t, err)

	require.NoError(t, cs.Discard())
	_, err = os.Stat(cs.Dir())
	assert.True(t, os.IsNotExist(err))
}
