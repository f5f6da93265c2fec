package domain

import (
	"time"

	"github.com/google/uuid"
)

// Camera health states. Maintenance is administrative: the scanner never sets
// or clears it, and cameras in it are excluded from scheduling.
const (
	CameraActive      = "Active"
	CameraOffline     = "Offline"
	CameraMaintenance = "Maintenance"
)

// ScanJob lifecycle states.
const (
	JobRunning   = "Running"
	JobCompleted = "Completed"
	JobFailed    = "Failed"
)

// ScanAttempt outcomes. Failed means the feed could not be fetched; Error
// means a later pipeline stage (preprocess, classify, unexpected panic) broke.
const (
	AttemptSuccess = "Success"
	AttemptFailed  = "Failed"
	AttemptError   = "Error"
)

// JobTypeScheduled marks jobs created by the interval scheduler, as opposed
// to operator-triggered rescans.
const JobTypeScheduled = "Scheduled"

// Camera is a fixed-location traffic camera. Only Status is mutated by the
// scanner; everything else is camera configuration owned by administrators.
type Camera struct {
	ID           string  `gorm:"primaryKey" json:"id"`
	Name         string  `gorm:"not null" json:"name"`
	Latitude     float64 `json:"latitude"`
	Longitude    float64 `json:"longitude"`
	WardID       *string `gorm:"index" json:"ward_id,omitempty"`
	WardName     string  `json:"ward_name,omitempty"`
	DistrictName string  `json:"district_name,omitempty"`
	Status       string  `gorm:"default:Active" json:"status"`

	Feeds []CameraFeed `gorm:"foreignKey:CameraID" json:"feeds,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CameraFeed is one snapshot endpoint of a camera. Exactly one feed per
// camera is active at a time and is the scanner's fetch target.
type CameraFeed struct {
	ID       uint   `gorm:"primaryKey" json:"id"`
	CameraID string `gorm:"index;not null" json:"camera_id"`
	Camera   Camera `json:"-"`
	URL      string `gorm:"not null" json:"url"`
	IsActive bool   `gorm:"default:true" json:"is_active"`
}

// ScanJob is the audit record of one scheduler cycle.
type ScanJob struct {
	ID        uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	JobType   string     `gorm:"default:Scheduled" json:"job_type"`
	Status    string     `gorm:"index;default:Running" json:"status"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	Notes     string     `json:"notes,omitempty"`

	Attempts []ScanAttempt `gorm:"foreignKey:JobID;constraint:OnDelete:CASCADE" json:"attempts,omitempty"`
}

// ScanAttempt is the audit record of one camera within one cycle. Written
// exactly once per (job, camera) pair and never updated afterwards.
type ScanAttempt struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	JobID       uuid.UUID `gorm:"type:uuid;index;not null" json:"job_id"`
	CameraID    string    `gorm:"index" json:"camera_id"`
	Status      string    `json:"status"`
	LatencyMs   int       `json:"latency_ms"`
	HTTPStatus  int       `json:"http_status,omitempty"`
	ErrorDetail string    `json:"error_detail,omitempty"`
	AttemptedAt time.Time `gorm:"index" json:"attempted_at"`
}

// ObservationLog is one classified frame. Coordinates are denormalized from
// the camera at write time. The composite (camera_id, timestamp) index backs
// both the cooldown lookup and "latest observation" queries.
type ObservationLog struct {
	ID         int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	CameraID   string    `gorm:"index:idx_observations_camera_time,priority:1" json:"camera_id"`
	IsRaining  bool      `json:"is_raining"`
	Confidence float32   `json:"confidence"`
	ImageURL   string    `json:"image_url,omitempty"`
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	Timestamp  time.Time `gorm:"index:idx_observations_camera_time,priority:2" json:"timestamp"`
}

// CameraStatusLog records one health transition, best-effort.
type CameraStatusLog struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	CameraID  string    `gorm:"index" json:"camera_id"`
	Status    string    `json:"status"`
	Reason    string    `json:"reason,omitempty"`
	CheckedAt time.Time `gorm:"index" json:"checked_at"`
}

// AlertSubscription is a user's standing request for rain alerts in a ward.
// Read-only to the scanner.
type AlertSubscription struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	WardID      string    `gorm:"index" json:"ward_id"`
	DeviceToken string    `json:"device_token,omitempty"`
	Email       string    `json:"email,omitempty"`
	Threshold   float32   `gorm:"default:0.7" json:"threshold"`
	Enabled     bool      `gorm:"default:true" json:"enabled"`
	EmailAlerts bool      `gorm:"default:false" json:"email_alerts"`
	CreatedAt   time.Time `json:"created_at"`
}

// Prediction is the classifier verdict for one frame.
type Prediction struct {
	IsRaining  bool    `json:"is_raining"`
	Confidence float32 `json:"confidence"`
}

// RainAlert is the payload broadcast to dashboard and district channels when
// an alert fires.
type RainAlert struct {
	CameraID     string    `json:"camera_id"`
	CameraName   string    `json:"camera_name"`
	WardName     string    `json:"ward_name,omitempty"`
	DistrictName string    `json:"district_name,omitempty"`
	ImageURL     string    `json:"image_url,omitempty"`
	Confidence   float32   `json:"confidence"`
	Timestamp    time.Time `json:"timestamp"`
}
