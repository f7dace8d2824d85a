package models

import (
	"time"
)

// ConversionMode describes how a conversion produced its output.
type ConversionMode string

const (
	// ModeStreamed indicates the output was delivered chunk by chunk
	// through the media sink.
	ModeStreamed ConversionMode = "streamed"
	// ModeFallback indicates the streaming attempts were exhausted and the
	// output came from a whole-file conversion.
	ModeFallback ConversionMode = "fallback"
)

// ConversionState is the terminal state a conversion session ended in.
type ConversionState string

const (
	// ConversionCompleted indicates the session produced a playable output.
	ConversionCompleted ConversionState = "completed"
	// ConversionAborted indicates the session failed without output.
	ConversionAborted ConversionState = "aborted"
)

// ConversionRecord is the persisted outcome of one conversion request.
type ConversionRecord struct {
	BaseModel

	// SessionID is the UUID of the live streaming session that produced
	// this record.
	SessionID string `gorm:"not null;size:36;uniqueIndex" json:"session_id"`

	// Source is the path of the ingested source file.
	Source string `gorm:"not null;size:1024" json:"source"`

	// Container is the negotiated container format of the output.
	Container string `gorm:"size:16" json:"container,omitempty"`

	// VideoCodec and AudioCodec are the encoders applied to every chunk
	// and to the fallback conversion alike.
	VideoCodec string `gorm:"size:64" json:"video_codec,omitempty"`
	AudioCodec string `gorm:"size:64" json:"audio_codec,omitempty"`

	// Preset is the encoder preset.
	Preset string `gorm:"size:32" json:"preset,omitempty"`

	// Quality is the CRF value (0 = encoder default).
	Quality int `json:"quality,omitempty"`

	// Mode records whether the output was streamed or converted whole.
	Mode ConversionMode `gorm:"not null;size:16;index" json:"mode"`

	// FinalState is the terminal state the session ended in.
	FinalState ConversionState `gorm:"not null;size:16;index" json:"final_state"`

	// Attempts is the number of streaming attempts used.
	Attempts int `json:"attempts"`

	// ChunksAppended and BytesAppended summarise sink activity across all
	// attempts.
	ChunksAppended int64 `json:"chunks_appended"`
	BytesAppended  int64 `json:"bytes_appended"`

	// SourceDuration is the probed source duration in seconds.
	SourceDuration float64 `json:"source_duration,omitempty"`

	// OutputPath is where the whole-file fallback output was written.
	// Empty for streamed conversions, whose output lives in the sink.
	OutputPath string `gorm:"size:1024" json:"output_path,omitempty"`

	// Error is the final error message for aborted sessions.
	Error string `gorm:"size:4096" json:"error,omitempty"`

	// StartedAt and FinishedAt bound the session lifetime.
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// TableName returns the table name for ConversionRecord.
func (ConversionRecord) TableName() string {
	return "conversion_records"
}

// Validate checks the record for required fields and valid enum values.
func (r *ConversionRecord) Validate() error {
	if r.SessionID == "" {
		return ErrSessionIDRequired
	}
	if r.Source == "" {
		return ErrSourceRequired
	}
	switch r.Mode {
	case ModeStreamed, ModeFallback:
	default:
		return ErrInvalidMode
	}
	switch r.FinalState {
	case ConversionCompleted, ConversionAborted:
	default:
		return ErrInvalidFinalState
	}
	return nil
}

// Succeeded returns true if the conversion produced a playable output.
func (r *ConversionRecord) Succeeded() bool {
	return r.FinalState == ConversionCompleted
}

// UsedFallback returns true if the output came from the whole-file
// fallback conversion.
func (r *ConversionRecord) UsedFallback() bool {
	return r.Mode == ModeFallback
}
