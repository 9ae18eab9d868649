package ingest

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
)

// GetSession returns one session with its registered files and rate stats.
// Ownership-scoped: a caller never reads another identity's sessions.
func (s *Service) GetSession(ctx context.Context, userID, sessionID string) (Session, error) {
	row := s.db.QueryRow(ctx, `
		SELECT s.imu_session_id, s.user_id, s.device_id, s.start_time_utc, s.end_time_utc,
		       COALESCE(s.nominal_hz, 0), s.actual_mean_hz, s.coord_frame, s.gravity_removed,
		       COALESCE(s.notes, ''), COALESCE(s.action_type, ''), COALESCE(s.game_session_id, ''),
		       s.created_at, COALESCE(d.platform, ''), COALESCE(d.model, ''), COALESCE(d.os_version, '')
		FROM imu_sessions s
		LEFT JOIN devices d ON s.device_id = d.device_id
		WHERE s.imu_session_id = $1
	`, sessionID)

	var sess Session
	err := row.Scan(&sess.SessionID, &sess.UserID, &sess.DeviceID, &sess.StartTimeUTC, &sess.EndTimeUTC,
		&sess.NominalHz, &sess.ActualMeanHz, &sess.CoordFrame, &sess.GravityRemoved,
		&sess.Notes, &sess.ActionType, &sess.GameSessionID,
		&sess.CreatedAt, &sess.Device.Platform, &sess.Device.Model, &sess.Device.OSVersion)
	if errors.Is(err, pgx.ErrNoRows) {
		return Session{}, ErrNotFound
	}
	if err != nil {
		return Session{}, err
	}
	if sess.UserID != userID {
		return Session{}, ErrForbidden
	}

	if sess.Files, err = s.sessionFiles(ctx, sessionID); err != nil {
		return Session{}, err
	}
	if sess.RateStats, err = s.sessionStats(ctx, sessionID); err != nil {
		return Session{}, err
	}
	return sess, nil
}

func (s *Service) sessionFiles(ctx context.Context, sessionID string) ([]SessionFile, error) {
	rows, err := s.db.Query(ctx, `
		SELECT file_id, purpose, storage_url, COALESCE(content_type, ''), bytes_size,
		       COALESCE(sha256_hex, ''), num_samples, created_at
		FROM imu_session_files
		WHERE imu_session_id = $1
		ORDER BY purpose, created_at
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var files []SessionFile
	for rows.Next() {
		var f SessionFile
		if err := rows.Scan(&f.FileID, &f.Purpose, &f.StorageURL, &f.ContentType, &f.BytesSize,
			&f.SHA256Hex, &f.NumSamples, &f.CreatedAt); err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

func (s *Service) sessionStats(ctx context.Context, sessionID string) (*RateStats, error) {
	row := s.db.QueryRow(ctx, `
		SELECT samples_total, duration_ms, mean_hz, COALESCE(dt_ms_p50, 0), COALESCE(dt_ms_p95, 0),
		       COALESCE(dt_ms_max, 0), dropped_seq_pct
		FROM imu_session_stats WHERE imu_session_id = $1
	`, sessionID)

	var stats RateStats
	err := row.Scan(&stats.SamplesTotal, &stats.DurationMs, &stats.MeanHz, &stats.DtMsP50, &stats.DtMsP95,
		&stats.DtMsMax, &stats.DroppedSeqPct)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &stats, nil
}

// ListSessions pages through the caller's sessions, newest first.
func (s *Service) ListSessions(ctx context.Context, userID string, limit, offset int) (SessionList, error) {
	if limit < 1 {
		limit = 50
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	list := SessionList{Limit: limit, Offset: offset}
	if err := s.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM imu_sessions WHERE user_id = $1
	`, userID).Scan(&list.Total); err != nil {
		return SessionList{}, err
	}

	rows, err := s.db.Query(ctx, `
		SELECT s.imu_session_id, s.user_id, s.device_id, s.start_time_utc, s.end_time_utc,
		       COALESCE(s.nominal_hz, 0), s.actual_mean_hz, s.coord_frame, s.gravity_removed,
		       COALESCE(s.action_type, ''), s.created_at, COALESCE(d.platform, ''), COALESCE(d.model, '')
		FROM imu_sessions s
		LEFT JOIN devices d ON s.device_id = d.device_id
		WHERE s.user_id = $1
		ORDER BY s.start_time_utc DESC
		LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	if err != nil {
		return SessionList{}, err
	}
	defer rows.Close()

	for rows.Next() {
		var sess Session
		if err := rows.Scan(&sess.SessionID, &sess.UserID, &sess.DeviceID, &sess.StartTimeUTC, &sess.EndTimeUTC,
			&sess.NominalHz, &sess.ActualMeanHz, &sess.CoordFrame, &sess.GravityRemoved,
			&sess.ActionType, &sess.CreatedAt, &sess.Device.Platform, &sess.Device.Model); err != nil {
			return SessionList{}, err
		}
		list.Sessions = append(list.Sessions, sess)
	}
	return list, rows.Err()
}
