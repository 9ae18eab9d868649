package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/KLayOnStudio/dojogo-sub000/internal/auth"
	"github.com/KLayOnStudio/dojogo-sub000/internal/blob"
	"github.com/KLayOnStudio/dojogo-sub000/internal/db"
	"github.com/KLayOnStudio/dojogo-sub000/internal/imu"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/redis/go-redis/v9"
)

const (
	finalizeCachePrefix = "imu:finalize:"
	finalizeCacheTTL    = 24 * time.Hour
)

var validPlatforms = map[string]bool{"ios": true, "android": true, "switch": true, "other": true}

type Service struct {
	db     db.Querier
	store  blob.Store
	tokens *auth.CapabilityService
	cache  *redis.Client
}

func NewService(q db.Querier, store blob.Store, tokens *auth.CapabilityService, cache *redis.Client) *Service {
	return &Service{db: q, store: store, tokens: tokens, cache: cache}
}

// CreateSession is idempotent on (user, client_upload_id): a retry under a
// flaky network returns the already-created session with a fresh capability
// token instead of creating a duplicate. A retry whose payload differs from
// the first request is resolved by trusting the first recorded session and
// ignoring the differences.
func (s *Service) CreateSession(ctx context.Context, userID string, req CreateSessionRequest) (CreateSessionResponse, error) {
	if req.ClientUploadID == "" {
		return CreateSessionResponse{}, invalidf("client_upload_id is required")
	}
	if !validPlatforms[req.DeviceInfo.Platform] {
		return CreateSessionResponse{}, invalidf("device_info.platform must be one of ios, android, switch, other")
	}
	if req.StartTimeUTC.IsZero() {
		return CreateSessionResponse{}, invalidf("start_time_utc is required")
	}
	if req.CoordFrame == "" {
		req.CoordFrame = "device"
	}
	if req.CoordFrame != "device" && req.CoordFrame != "world" {
		return CreateSessionResponse{}, invalidf("coord_frame must be 'device' or 'world'")
	}
	hwID := req.DeviceInfo.HwID
	if hwID == "" {
		hwID = "unknown"
	}

	var deviceID string
	row := s.db.QueryRow(ctx, `
		INSERT INTO devices (device_id, user_id, platform, model, os_version, app_version, hw_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (user_id, hw_id) DO UPDATE
		SET platform = EXCLUDED.platform,
		    model = EXCLUDED.model,
		    os_version = EXCLUDED.os_version,
		    app_version = EXCLUDED.app_version
		RETURNING device_id
	`, uuid.NewString(), userID, req.DeviceInfo.Platform, req.DeviceInfo.Model, req.DeviceInfo.OSVersion, req.DeviceInfo.AppVersion, hwID)
	if err := row.Scan(&deviceID); err != nil {
		return CreateSessionResponse{}, err
	}

	if resp, err := s.lookupByUploadID(ctx, userID, req.ClientUploadID); err == nil {
		return s.withToken(userID, resp, false)
	} else if !errors.Is(err, pgx.ErrNoRows) {
		return CreateSessionResponse{}, err
	}

	sessionID := uuid.NewString()
	gravityRemoved := true
	if req.GravityRemoved != nil {
		gravityRemoved = *req.GravityRemoved
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO imu_sessions
		(imu_session_id, user_id, device_id, start_time_utc, nominal_hz, coord_frame, gravity_removed, notes, action_type, game_session_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, sessionID, userID, deviceID, req.StartTimeUTC.UTC(), nullIfZero(req.NominalHz), req.CoordFrame, gravityRemoved,
		nullIfEmpty(req.Notes), nullIfEmpty(req.ActionType), nullIfEmpty(req.GameSessionID))
	if err != nil {
		return CreateSessionResponse{}, err
	}

	_, err = s.db.Exec(ctx, `
		INSERT INTO imu_client_uploads (imu_session_id, user_id, client_upload_id)
		VALUES ($1,$2,$3)
	`, sessionID, userID, req.ClientUploadID)
	if isUniqueViolation(err) {
		// Lost a concurrent-retry race: drop our orphan session and return
		// the winner's.
		_, _ = s.db.Exec(ctx, `DELETE FROM imu_sessions WHERE imu_session_id = $1`, sessionID)
		resp, lookupErr := s.lookupByUploadID(ctx, userID, req.ClientUploadID)
		if lookupErr != nil {
			return CreateSessionResponse{}, lookupErr
		}
		return s.withToken(userID, resp, false)
	}
	if err != nil {
		return CreateSessionResponse{}, err
	}

	resp := CreateSessionResponse{
		SessionID:     sessionID,
		DeviceID:      deviceID,
		StartTimeUTC:  req.StartTimeUTC.UTC(),
		NominalHz:     req.NominalHz,
		CoordFrame:    req.CoordFrame,
		GameSessionID: req.GameSessionID,
		ActionType:    req.ActionType,
	}
	return s.withToken(userID, resp, true)
}

func (s *Service) lookupByUploadID(ctx context.Context, userID, clientUploadID string) (CreateSessionResponse, error) {
	var resp CreateSessionResponse
	row := s.db.QueryRow(ctx, `
		SELECT s.imu_session_id, s.device_id, s.start_time_utc, COALESCE(s.nominal_hz, 0), s.coord_frame,
		       COALESCE(s.game_session_id, ''), COALESCE(s.action_type, '')
		FROM imu_sessions s
		JOIN imu_client_uploads u ON u.imu_session_id = s.imu_session_id
		WHERE u.user_id = $1 AND u.client_upload_id = $2
	`, userID, clientUploadID)
	err := row.Scan(&resp.SessionID, &resp.DeviceID, &resp.StartTimeUTC, &resp.NominalHz, &resp.CoordFrame,
		&resp.GameSessionID, &resp.ActionType)
	return resp, err
}

func (s *Service) withToken(userID string, resp CreateSessionResponse, created bool) (CreateSessionResponse, error) {
	token, err := s.tokens.Mint(userID, resp.SessionID)
	if err != nil {
		return CreateSessionResponse{}, err
	}
	resp.UserID = userID
	resp.Capability = token
	resp.Created = created
	return resp, nil
}

// FinalizeManifest verifies every listed file against the store, registers
// the manifest, and closes the session. A repeat call returns the cached
// summary instead of erroring or double-inserting.
func (s *Service) FinalizeManifest(ctx context.Context, userID, sessionID string, req FinalizeRequest) (FinalizeSummary, error) {
	var ownerID string
	var endTime *time.Time
	row := s.db.QueryRow(ctx, `
		SELECT user_id, end_time_utc FROM imu_sessions WHERE imu_session_id = $1
	`, sessionID)
	if err := row.Scan(&ownerID, &endTime); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return FinalizeSummary{}, ErrNotFound
		}
		return FinalizeSummary{}, err
	}
	if ownerID != userID {
		return FinalizeSummary{}, ErrForbidden
	}

	if endTime != nil {
		return s.finalizedSummary(ctx, sessionID, *endTime)
	}

	if req.EndTimeUTC.IsZero() {
		return FinalizeSummary{}, invalidf("end_time_utc is required")
	}

	sessionPath := auth.SessionPath(userID, sessionID)
	if err := s.verifyFiles(ctx, sessionPath, req.Files); err != nil {
		return FinalizeSummary{}, err
	}

	var totalBytes, totalSamples int64
	for _, f := range req.Files {
		storageURL := sessionPath + f.Filename
		var fileID string
		err := s.db.QueryRow(ctx, `
			SELECT file_id FROM imu_session_files
			WHERE imu_session_id = $1 AND purpose = $2 AND storage_url = $3
		`, sessionID, f.Purpose, storageURL).Scan(&fileID)
		if errors.Is(err, pgx.ErrNoRows) {
			_, err = s.db.Exec(ctx, `
				INSERT INTO imu_session_files
				(file_id, imu_session_id, purpose, storage_url, content_type, bytes_size, sha256_hex, num_samples)
				VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
			`, uuid.NewString(), sessionID, f.Purpose, storageURL, nullIfEmpty(f.ContentType), f.BytesSize,
				nullIfEmpty(f.SHA256Hex), f.NumSamples)
			if isUniqueViolation(err) {
				// A concurrent retry registered the same file first.
				err = nil
			}
		}
		if err != nil {
			return FinalizeSummary{}, err
		}
		totalBytes += f.BytesSize
		if f.NumSamples != nil {
			totalSamples += *f.NumSamples
		}
	}

	var actualMeanHz any
	if req.RateStats != nil {
		actualMeanHz = req.RateStats.MeanHz
	}
	if _, err := s.db.Exec(ctx, `
		UPDATE imu_sessions SET end_time_utc = $2, actual_mean_hz = $3 WHERE imu_session_id = $1
	`, sessionID, req.EndTimeUTC.UTC(), actualMeanHz); err != nil {
		return FinalizeSummary{}, err
	}

	if err := s.insertRateStats(ctx, sessionID, req.RateStats); err != nil {
		return FinalizeSummary{}, err
	}

	summary := FinalizeSummary{
		Message:      "Manifest finalized successfully",
		SessionID:    sessionID,
		TotalFiles:   int64(len(req.Files)),
		TotalBytes:   totalBytes,
		TotalSamples: totalSamples,
		EndTimeUTC:   req.EndTimeUTC.UTC(),
	}
	s.cacheSummary(ctx, summary)
	return summary, nil
}

func (s *Service) verifyFiles(ctx context.Context, sessionPath string, files []ManifestFile) error {
	var missing []string
	for _, f := range files {
		if f.Filename == "" {
			return invalidf("each file must have a filename")
		}
		if !imu.ValidPurpose(f.Purpose) {
			return invalidf("invalid purpose %q for file %s", f.Purpose, f.Filename)
		}
		if f.SHA256Hex != "" && len(f.SHA256Hex) != 64 {
			return invalidf("invalid SHA-256 checksum for %s: must be 64 hex characters", f.Filename)
		}

		actual, err := s.store.Stat(ctx, sessionPath+f.Filename)
		if errors.Is(err, blob.ErrNotFound) {
			missing = append(missing, f.Filename)
			continue
		}
		if err != nil {
			return err
		}
		if f.BytesSize > 0 && actual != f.BytesSize {
			return &SizeMismatchError{Filename: f.Filename, Claimed: f.BytesSize, Actual: actual}
		}
	}
	if len(missing) > 0 {
		return &MissingFilesError{Filenames: missing}
	}
	return nil
}

// finalizedSummary serves the idempotent repeat-finalize path: cached
// summary when redis has it, aggregate recomputation otherwise.
func (s *Service) finalizedSummary(ctx context.Context, sessionID string, endTime time.Time) (FinalizeSummary, error) {
	if cached, ok := s.cachedSummary(ctx, sessionID); ok {
		return cached, nil
	}

	summary := FinalizeSummary{
		Message:    "Manifest already finalized (idempotent)",
		SessionID:  sessionID,
		EndTimeUTC: endTime.UTC(),
	}
	row := s.db.QueryRow(ctx, `
		SELECT COUNT(*), COALESCE(SUM(bytes_size), 0), COALESCE(SUM(num_samples), 0)
		FROM imu_session_files WHERE imu_session_id = $1
	`, sessionID)
	if err := row.Scan(&summary.TotalFiles, &summary.TotalBytes, &summary.TotalSamples); err != nil {
		return FinalizeSummary{}, err
	}
	s.cacheSummary(ctx, summary)
	return summary, nil
}

func (s *Service) insertRateStats(ctx context.Context, sessionID string, stats *RateStats) error {
	if stats == nil {
		return nil
	}
	if stats.SamplesTotal <= 0 || stats.DurationMs <= 0 || stats.MeanHz <= 0 {
		log.Printf("incomplete rate_stats for session %s, skipping stats insert", sessionID)
		return nil
	}

	var existing string
	err := s.db.QueryRow(ctx, `
		SELECT imu_session_id FROM imu_session_stats WHERE imu_session_id = $1
	`, sessionID).Scan(&existing)
	if err == nil {
		return nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return err
	}

	_, err = s.db.Exec(ctx, `
		INSERT INTO imu_session_stats
		(imu_session_id, samples_total, duration_ms, mean_hz, dt_ms_p50, dt_ms_p95, dt_ms_max, dropped_seq_pct)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, sessionID, stats.SamplesTotal, stats.DurationMs, stats.MeanHz, stats.DtMsP50, stats.DtMsP95, stats.DtMsMax, stats.DroppedSeqPct)
	if isUniqueViolation(err) {
		return nil
	}
	return err
}

func (s *Service) cachedSummary(ctx context.Context, sessionID string) (FinalizeSummary, bool) {
	if s.cache == nil {
		return FinalizeSummary{}, false
	}
	raw, err := s.cache.Get(ctx, finalizeCachePrefix+sessionID).Bytes()
	if err != nil {
		return FinalizeSummary{}, false
	}
	var summary FinalizeSummary
	if err := json.Unmarshal(raw, &summary); err != nil {
		return FinalizeSummary{}, false
	}
	summary.Message = "Manifest already finalized (idempotent)"
	return summary, true
}

func (s *Service) cacheSummary(ctx context.Context, summary FinalizeSummary) {
	if s.cache == nil {
		return
	}
	raw, err := json.Marshal(summary)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, finalizeCachePrefix+summary.SessionID, raw, finalizeCacheTTL).Err(); err != nil {
		log.Printf("finalize cache set error: %v", err)
	}
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullIfZero(f float64) any {
	if f == 0 {
		return nil
	}
	return f
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
