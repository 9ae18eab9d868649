package capture

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/KLayOnStudio/dojogo-sub000/internal/imu"
	"github.com/KLayOnStudio/dojogo-sub000/internal/ingest"
)

const stateFilename = "state.json"

// FileRecord is the durable work-queue entry for one local file: what was
// written, its identity hashes, and whether it has reached the server.
type FileRecord struct {
	Name       string `json:"name"`
	Purpose    string `json:"purpose"`
	BytesSize  int64  `json:"bytes_size"`
	SHA256Hex  string `json:"sha256_hex"`
	NumSamples int64  `json:"num_samples,omitempty"`
	Uploaded   bool   `json:"uploaded"`
}

// SessionState is persisted to state.json after every mutation so a crashed
// process can resume exactly where it stopped. The client upload id is the
// idempotency key that reattaches the resumed process to its server session.
type SessionState struct {
	ClientUploadID string            `json:"client_upload_id"`
	SessionID      string            `json:"imu_session_id,omitempty"`
	UserID         string            `json:"user_id,omitempty"`
	DeviceID       string            `json:"device_id,omitempty"`
	DeviceInfo     ingest.DeviceInfo `json:"device_info"`
	StartTimeUTC   time.Time         `json:"start_time_utc"`
	NominalHz      float64           `json:"nominal_hz"`
	CoordFrame     string            `json:"coord_frame"`
	GravityRemoved bool              `json:"gravity_removed"`
	ActionType     string            `json:"action_type,omitempty"`
	GameSessionID  string            `json:"game_session_id,omitempty"`
	Notes          string            `json:"notes,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	Files          []FileRecord      `json:"files"`
}

// ChunkStore owns one session's local directory: numbered immutable chunk
// files, auxiliary files (device snapshot, detected events), and the
// state.json record.
type ChunkStore struct {
	dir   string
	state SessionState
}

func NewChunkStore(root string, state SessionState) (*ChunkStore, error) {
	dir := filepath.Join(root, state.ClientUploadID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}
	if state.CreatedAt.IsZero() {
		state.CreatedAt = time.Now().UTC()
	}
	cs := &ChunkStore{dir: dir, state: state}
	if err := cs.saveState(); err != nil {
		return nil, err
	}
	return cs, nil
}

// OpenChunkStore loads an existing session directory for resume. Returns an
// error when state.json is missing or unparseable; the caller decides
// whether to discard.
func OpenChunkStore(dir string) (*ChunkStore, error) {
	raw, err := os.ReadFile(filepath.Join(dir, stateFilename))
	if err != nil {
		return nil, fmt.Errorf("read session state: %w", err)
	}
	var state SessionState
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, fmt.Errorf("parse session state: %w", err)
	}
	if state.ClientUploadID == "" {
		return nil, fmt.Errorf("session state has no client upload id")
	}
	return &ChunkStore{dir: dir, state: state}, nil
}

func (cs *ChunkStore) Dir() string { return cs.dir }

func (cs *ChunkStore) State() SessionState { return cs.state }

// SetSession records the server-assigned ids once CreateSession succeeds.
func (cs *ChunkStore) SetSession(sessionID, userID, deviceID string) error {
	cs.state.SessionID = sessionID
	cs.state.UserID = userID
	cs.state.DeviceID = deviceID
	return cs.saveState()
}

func (cs *ChunkStore) chunkIndex() int {
	n := 0
	for _, f := range cs.state.Files {
		if f.Purpose == imu.PurposeRaw {
			n++
		}
	}
	return n
}

// WriteChunk serializes the buffer into the next numbered immutable chunk
// and records it in the work queue. The chunk is written to a temp file and
// renamed so a crash never leaves a half-written chunk behind.
func (cs *ChunkStore) WriteChunk(samples []imu.Sample) (FileRecord, error) {
	index := cs.chunkIndex()
	name := fmt.Sprintf("chunk_%03d.ndjson", index)

	header := imu.ChunkHeader{
		SessionID:      cs.state.SessionID,
		UserID:         cs.state.UserID,
		DeviceID:       cs.state.DeviceID,
		StartTimeUTC:   cs.state.StartTimeUTC,
		NominalHz:      cs.state.NominalHz,
		CoordFrame:     cs.state.CoordFrame,
		GravityRemoved: cs.state.GravityRemoved,
		ChunkIndex:     index,
	}

	tmp, err := os.CreateTemp(cs.dir, name+".tmp-*")
	if err != nil {
		return FileRecord{}, fmt.Errorf("create chunk temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	hasher := sha256.New()
	counter := &countingWriter{}
	if err := imu.WriteChunk(io.MultiWriter(tmp, hasher, counter), header, samples); err != nil {
		tmp.Close()
		return FileRecord{}, err
	}
	if err := tmp.Close(); err != nil {
		return FileRecord{}, err
	}
	if err := os.Rename(tmp.Name(), filepath.Join(cs.dir, name)); err != nil {
		return FileRecord{}, fmt.Errorf("publish chunk: %w", err)
	}

	rec := FileRecord{
		Name:       name,
		Purpose:    imu.PurposeRaw,
		BytesSize:  counter.n,
		SHA256Hex:  hex.EncodeToString(hasher.Sum(nil)),
		NumSamples: int64(len(samples)),
	}
	cs.state.Files = append(cs.state.Files, rec)
	return rec, cs.saveState()
}

// WriteAux stores a small auxiliary file (device snapshot, detected events)
// alongside the chunks and queues it for upload.
func (cs *ChunkStore) WriteAux(name, purpose string, data []byte) (FileRecord, error) {
	if !imu.ValidPurpose(purpose) {
		return FileRecord{}, fmt.Errorf("invalid file purpose %q", purpose)
	}
	if err := os.WriteFile(filepath.Join(cs.dir, name), data, 0o644); err != nil {
		return FileRecord{}, fmt.Errorf("write %s: %w", name, err)
	}
	sum := sha256.Sum256(data)
	rec := FileRecord{
		Name:      name,
		Purpose:   purpose,
		BytesSize: int64(len(data)),
		SHA256Hex: hex.EncodeToString(sum[:]),
	}
	cs.state.Files = append(cs.state.Files, rec)
	return rec, cs.saveState()
}

// Open returns a reader over a stored file for upload or analysis.
func (cs *ChunkStore) Open(name string) (io.ReadCloser, error) {
	return os.Open(filepath.Join(cs.dir, filepath.Base(name)))
}

// ReadChunkSamples reads one chunk back for post-session analysis.
func (cs *ChunkStore) ReadChunkSamples(name string) ([]imu.Sample, error) {
	f, err := cs.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	_, samples, err := imu.ReadChunk(f)
	return samples, err
}

// Pending lists files not yet confirmed uploaded, in write order.
func (cs *ChunkStore) Pending() []FileRecord {
	var pending []FileRecord
	for _, f := range cs.state.Files {
		if !f.Uploaded {
			pending = append(pending, f)
		}
	}
	return pending
}

func (cs *ChunkStore) MarkUploaded(name string) error {
	for i := range cs.state.Files {
		if cs.state.Files[i].Name == name {
			cs.state.Files[i].Uploaded = true
			return cs.saveState()
		}
	}
	return fmt.Errorf("unknown file %q", name)
}

// Manifest builds the finalize file list from the work queue.
func (cs *ChunkStore) Manifest() []ingest.ManifestFile {
	files := make([]ingest.ManifestFile, 0, len(cs.state.Files))
	for _, f := range cs.state.Files {
		mf := ingest.ManifestFile{
			Filename:  f.Name,
			Purpose:   f.Purpose,
			BytesSize: f.BytesSize,
			SHA256Hex: f.SHA256Hex,
		}
		if f.Purpose == imu.PurposeRaw {
			n := f.NumSamples
			mf.NumSamples = &n
			mf.ContentType = "application/x-ndjson"
		} else {
			mf.ContentType = "application/json"
		}
		files = append(files, mf)
	}
	return files
}

// Discard removes the whole session directory. Used after a successful
// finalize and for stale or corrupt leftovers found at startup.
func (cs *ChunkStore) Discard() error {
	return os.RemoveAll(cs.dir)
}

func (cs *ChunkStore) saveState() error {
	raw, err := json.MarshalIndent(cs.state, "", "  ")
	if err != nil {
		return err
	}
	tmp := filepath.Join(cs.dir, stateFilename+".tmp")
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("write session state: %w", err)
	}
	return os.Rename(tmp, filepath.Join(cs.dir, stateFilename))
}

type countingWriter struct{ n int64 }

func (w *countingWriter) Write(p []byte) (int, error) {
	w.n += int64(len(p))
	return len(p), nil
}
