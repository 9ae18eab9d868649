package ingest

import (
	"time"

	"github.com/KLayOnStudio/dojogo-sub000/internal/auth"
)

// DeviceInfo identifies the capturing hardware. Devices are upserted by
// (user, hw_id) so OS or app upgrades update the existing row.
type DeviceInfo struct {
	Platform   string `json:"platform"`
	Model      string `json:"model,omitempty"`
	OSVersion  string `json:"os_version,omitempty"`
	AppVersion string `json:"app_version,omitempty"`
	HwID       string `json:"hw_id,omitempty"`
}

type CreateSessionRequest struct {
	ClientUploadID string     `json:"client_upload_id"`
	DeviceInfo     DeviceInfo `json:"device_info"`
	StartTimeUTC   time.Time  `json:"start_time_utc"`
	NominalHz      float64    `json:"nominal_hz,omitempty"`
	CoordFrame     string     `json:"coord_frame,omitempty"`
	GravityRemoved *bool      `json:"gravity_removed,omitempty"`
	Notes          string     `json:"notes,omitempty"`
	ActionType     string     `json:"action_type,omitempty"`
	GameSessionID  string     `json:"game_session_id,omitempty"`
}

type CreateSessionResponse struct {
	SessionID     string               `json:"imu_session_id"`
	UserID        string               `json:"user_id"`
	DeviceID      string               `json:"device_id"`
	StartTimeUTC  time.Time            `json:"start_time_utc"`
	NominalHz     float64              `json:"nominal_hz,omitempty"`
	CoordFrame    string               `json:"coord_frame"`
	GameSessionID string               `json:"game_session_id,omitempty"`
	ActionType    string               `json:"action_type,omitempty"`
	Capability    auth.CapabilityToken `json:"capability_token"`

	// Created distinguishes 201 from the idempotent 200 replay.
	Created bool `json:"-"`
}

type ManifestFile struct {
	Filename    string `json:"filename"`
	Purpose     string `json:"purpose"`
	ContentType string `json:"content_type,omitempty"`
	BytesSize   int64  `json:"bytes_size"`
	SHA256Hex   string `json:"sha256_hex,omitempty"`
	NumSamples  *int64 `json:"num_samples,omitempty"`
}

// RateStats is the client-computed sampling quality summary. Optional on
// the wire: old clients never send it and the session still finalizes.
type RateStats struct {
	SamplesTotal  int64    `json:"samples_total"`
	DurationMs    float64  `json:"duration_ms"`
	MeanHz        float64  `json:"mean_hz"`
	DtMsP50       float64  `json:"dt_ms_p50"`
	DtMsP95       float64  `json:"dt_ms_p95"`
	DtMsMax       float64  `json:"dt_ms_max"`
	DroppedSeqPct *float64 `json:"dropped_seq_pct,omitempty"`
}

type FinalizeRequest struct {
	EndTimeUTC time.Time      `json:"end_time_utc"`
	Files      []ManifestFile `json:"files"`
	RateStats  *RateStats     `json:"rate_stats,omitempty"`
}

type FinalizeSummary struct {
	Message      string    `json:"message"`
	SessionID    string    `json:"imu_session_id"`
	TotalFiles   int64     `json:"total_files"`
	TotalBytes   int64     `json:"total_bytes"`
	TotalSamples int64     `json:"total_samples"`
	EndTimeUTC   time.Time `json:"end_time_utc"`
}

type SessionFile struct {
	FileID      string    `json:"file_id"`
	Purpose     string    `json:"purpose"`
	StorageURL  string    `json:"storage_url"`
	ContentType string    `json:"content_type,omitempty"`
	BytesSize   int64     `json:"bytes_size"`
	SHA256Hex   string    `json:"sha256_hex,omitempty"`
	NumSamples  *int64    `json:"num_samples,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

type DeviceSummary struct {
	Platform  string `json:"platform"`
	Model     string `json:"model,omitempty"`
	OSVersion string `json:"os_version,omitempty"`
}

type Session struct {
	SessionID      string        `json:"imu_session_id"`
	UserID         string        `json:"user_id"`
	DeviceID       string        `json:"device_id"`
	StartTimeUTC   time.Time     `json:"start_time_utc"`
	EndTimeUTC     *time.Time    `json:"end_time_utc"`
	NominalHz      float64       `json:"nominal_hz,omitempty"`
	ActualMeanHz   *float64      `json:"actual_mean_hz"`
	CoordFrame     string        `json:"coord_frame"`
	GravityRemoved bool          `json:"gravity_removed"`
	Notes          string        `json:"notes,omitempty"`
	ActionType     string        `json:"action_type,omitempty"`
	GameSessionID  string        `json:"game_session_id,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
	Device         DeviceSummary `json:"device"`
	Files          []SessionFile `json:"files,omitempty"`
	RateStats      *RateStats    `json:"rate_stats,omitempty"`
}

type SessionList struct {
	Sessions []Session `json:"sessions"`
	Total    int       `json:"total"`
	Limit    int       `json:"limit"`
	Offset   int       `json:"offset"`
}
