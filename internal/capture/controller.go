package capture

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"github.com/KLayOnStudio/dojogo-sub000/internal/auth"
	"github.com/KLayOnStudio/dojogo-sub000/internal/imu"
	"github.com/KLayOnStudio/dojogo-sub000/internal/ingest"
	"github.com/KLayOnStudio/dojogo-sub000/internal/kinematics"
	"github.com/KLayOnStudio/dojogo-sub000/internal/motion"
	"github.com/google/uuid"
)

// State is the controller lifecycle position. Transitions are driven by the
// external activity session, never by the controller itself.
type State int

const (
	StateIdle State = iota
	StateRecording
	StateFinalizing
	StateUploading
	StateDone
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRecording:
		return "recording"
	case StateFinalizing:
		return "finalizing"
	case StateUploading:
		return "uploading"
	case StateDone:
		return "done"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

const defaultChunkSize = 10000

type Config struct {
	// Root is the local directory holding per-session chunk directories.
	Root string

	// NominalHz is the requested sampling rate. The achieved rate is
	// whatever the platform timer delivers; timestamps are recorded as
	// seen, never resampled.
	NominalHz float64

	// ChunkSize is the buffer rotation threshold in samples.
	ChunkSize int

	CoordFrame     string
	GravityRemoved bool
}

// StartOptions describe the external activity session a capture attaches to.
type StartOptions struct {
	DeviceInfo    ingest.DeviceInfo
	StartTimeUTC  time.Time
	ActionType    string
	GameSessionID string
	Notes         string
}

// SwingEvent is one entry of the events file attached to the manifest:
// a detected swing with its per-swing integration peak speed.
type SwingEvent struct {
	StartIndex       int     `json:"start_index"`
	EndIndex         int     `json:"end_index"`
	DurationMs       float64 `json:"duration_ms"`
	PeakEnergy       float64 `json:"peak_energy"`
	EndedInStillness bool    `json:"ended_in_stillness"`
	PeakSpeed        float64 `json:"peak_speed_ms"`
}

// Controller runs one capture at a time through
// Idle, Recording, Finalizing, Uploading, Done. Samples arrive on the
// caller's timer goroutine; uploads never block sampling of a new session
// because a finished session's chunks are immutable on disk.
type Controller struct {
	cfg        Config
	client     *Client
	uploader   *Uploader
	detector   *motion.Engine
	integrator *kinematics.Integrator

	mu         sync.Mutex
	state      State
	store      *ChunkStore
	session    ingest.CreateSessionResponse
	buf        []imu.Sample
	timestamps []int64
	sequences  []int64
}

func NewController(cfg Config, client *Client) *Controller {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = defaultChunkSize
	}
	if cfg.CoordFrame == "" {
		cfg.CoordFrame = "device"
	}
	return &Controller{
		cfg:        cfg,
		client:     client,
		uploader:   NewUploader(client),
		detector:   motion.NewEngine(motion.DefaultConfig()),
		integrator: kinematics.NewIntegrator(kinematics.Config{}),
		state:      StateIdle,
	}
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// OnExternalSessionStart creates the server session and begins recording.
// The client upload id minted here is the idempotency key for every retry
// and resume of this capture.
func (c *Controller) OnExternalSessionStart(ctx context.Context, opts StartOptions) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateIdle && c.state != StateDone {
		return fmt.Errorf("cannot start capture in state %s", c.state)
	}
	if opts.StartTimeUTC.IsZero() {
		opts.StartTimeUTC = time.Now().UTC()
	}

	state := SessionState{
		ClientUploadID: uuid.NewString(),
		DeviceInfo:     opts.DeviceInfo,
		StartTimeUTC:   opts.StartTimeUTC,
		NominalHz:      c.cfg.NominalHz,
		CoordFrame:     c.cfg.CoordFrame,
		GravityRemoved: c.cfg.GravityRemoved,
		ActionType:     opts.ActionType,
		GameSessionID:  opts.GameSessionID,
		Notes:          opts.Notes,
	}

	resp, err := c.client.CreateSession(ctx, createRequest(state))
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}

	store, err := NewChunkStore(c.cfg.Root, state)
	if err != nil {
		return err
	}
	if err := store.SetSession(resp.SessionID, resp.UserID, resp.DeviceID); err != nil {
		return err
	}

	c.store = store
	c.session = resp
	c.buf = c.buf[:0]
	c.timestamps = c.timestamps[:0]
	c.sequences = c.sequences[:0]
	c.state = StateRecording
	return nil
}

// Record accepts one sensor reading. When the buffer reaches the rotation
// threshold it is flushed to an immutable chunk; a disk failure on flush
// loses that one chunk but never stops sampling.
func (c *Controller) Record(s imu.Sample) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateRecording {
		return ErrNotRecording
	}

	c.buf = append(c.buf, s)
	c.timestamps = append(c.timestamps, s.TimestampNs)
	c.sequences = append(c.sequences, s.Sequence)
	if len(c.buf) >= c.cfg.ChunkSize {
		c.flushLocked()
	}
	return nil
}

func (c *Controller) flushLocked() {
	if len(c.buf) == 0 {
		return
	}
	if _, err := c.store.WriteChunk(c.buf); err != nil {
		log.Printf("chunk flush failed, %d samples dropped: %v", len(c.buf), err)
	}
	c.buf = c.buf[:0]
}

// OnExternalSessionEnd flushes the final chunk, runs motion analysis,
// writes the device snapshot and events files, then uploads and finalizes.
// Once the final flush lands, the session is durable in its work queue:
// any failure past that point releases the controller back to Idle and
// leaves the session on disk for Recover, so a new capture can start
// immediately even while this one's uploads are queued.
func (c *Controller) OnExternalSessionEnd(ctx context.Context) (ingest.FinalizeSummary, error) {
	c.mu.Lock()
	if c.state != StateRecording {
		c.mu.Unlock()
		return ingest.FinalizeSummary{}, fmt.Errorf("cannot finalize in state %s", c.state)
	}
	c.state = StateFinalizing
	c.flushLocked()
	store := c.store
	session := c.session
	stats := ComputeRateStats(c.timestamps, c.sequences)
	c.mu.Unlock()

	if err := c.writeDeviceSnapshot(store); err != nil {
		c.release(StateIdle)
		return ingest.FinalizeSummary{}, err
	}

	if err := c.writeEvents(store); err != nil {
		// Analysis is best-effort: the raw chunks still upload.
		log.Printf("motion analysis skipped: %v", err)
	}

	c.mu.Lock()
	c.state = StateUploading
	c.mu.Unlock()

	summary, err := c.uploadAndFinalize(ctx, session, store, stats, time.Now().UTC())
	if err != nil {
		c.release(StateIdle)
		return ingest.FinalizeSummary{}, err
	}

	c.release(StateDone)
	return summary, nil
}

// release detaches the controller from the current session's store. The
// directory stays untouched unless finalize already discarded it.
func (c *Controller) release(next State) {
	c.mu.Lock()
	c.state = next
	c.store = nil
	c.mu.Unlock()
}

// uploadAndFinalize drives the upload queue and the finalize call. An
// expired capability token is refreshed exactly once by re-creating the
// session with the same client upload id.
func (c *Controller) uploadAndFinalize(ctx context.Context, session ingest.CreateSessionResponse,
	store *ChunkStore, stats *ingest.RateStats, endTime time.Time) (ingest.FinalizeSummary, error) {

	err := c.uploader.UploadAll(ctx, session.Capability, store)
	if errors.Is(err, auth.ErrTokenExpired) {
		refreshed, refreshErr := c.client.CreateSession(ctx, createRequest(store.State()))
		if refreshErr != nil {
			return ingest.FinalizeSummary{}, fmt.Errorf("refresh capability token: %w", refreshErr)
		}
		session = refreshed
		err = c.uploader.UploadAll(ctx, session.Capability, store)
	}
	if err != nil {
		return ingest.FinalizeSummary{}, err
	}

	summary, err := c.client.FinalizeManifest(ctx, session.SessionID, ingest.FinalizeRequest{
		EndTimeUTC: endTime,
		Files:      store.Manifest(),
		RateStats:  stats,
	})
	if err != nil {
		return ingest.FinalizeSummary{}, err
	}

	if err := store.Discard(); err != nil {
		log.Printf("cleanup session dir %s: %v", store.Dir(), err)
	}
	return summary, nil
}

// writeEvents reads the flushed chunks back, detects swings, integrates
// each swing in isolation for its peak speed, and stores the result as the
// session's events file. Sessions with no detected swings get no file.
func (c *Controller) writeEvents(store *ChunkStore) error {
	var samples []imu.Sample
	for _, rec := range store.State().Files {
		if rec.Purpose != imu.PurposeRaw {
			continue
		}
		chunk, err := store.ReadChunkSamples(rec.Name)
		if err != nil {
			return fmt.Errorf("read chunk %s: %w", rec.Name, err)
		}
		samples = append(samples, chunk...)
	}

	segments := c.detector.DetectSwings(samples)
	if len(segments) == 0 {
		return nil
	}

	events := make([]SwingEvent, 0, len(segments))
	for _, seg := range segments {
		events = append(events, SwingEvent{
			StartIndex:       seg.StartIndex,
			EndIndex:         seg.EndIndex,
			DurationMs:       float64(seg.Duration) / 1e6,
			PeakEnergy:       seg.PeakEnergy,
			EndedInStillness: seg.EndedInStillness,
			PeakSpeed:        peakSpeed(c.integrator.IntegrateSwing(samples, seg)),
		})
	}

	raw, err := json.Marshal(events)
	if err != nil {
		return err
	}
	_, err = store.WriteAux("events.json", imu.PurposeEvents, raw)
	return err
}

func (c *Controller) writeDeviceSnapshot(store *ChunkStore) error {
	raw, err := json.Marshal(store.State().DeviceInfo)
	if err != nil {
		return err
	}
	_, err = store.WriteAux("device.json", imu.PurposeDevice, raw)
	return err
}

func peakSpeed(res kinematics.Result) float64 {
	peak := 0.0
	for _, p := range res.Points {
		v := p.Velocity
		speed := v[0]*v[0] + v[1]*v[1] + v[2]*v[2]
		if speed > peak {
			peak = speed
		}
	}
	return math.Sqrt(peak)
}

func createRequest(state SessionState) ingest.CreateSessionRequest {
	gravity := state.GravityRemoved
	return ingest.CreateSessionRequest{
		ClientUploadID: state.ClientUploadID,
		DeviceInfo:     state.DeviceInfo,
		StartTimeUTC:   state.StartTimeUTC,
		NominalHz:      state.NominalHz,
		CoordFrame:     state.CoordFrame,
		GravityRemoved: &gravity,
		Notes:          state.Notes,
		ActionType:     state.ActionType,
		GameSessionID:  state.GameSessionID,
	}
}
