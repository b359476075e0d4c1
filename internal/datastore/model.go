package datastore

import "time"

// Notification preference values.
const (
	NotifyAll  = "all"
	NotifyNone = "none"
)

// MotionEvent is one processed motion occurrence.
type MotionEvent struct {
	ID          uint      `gorm:"primaryKey"`
	EventID     string    `gorm:"uniqueIndex;size:64"`
	RecordingID string    `gorm:"index;size:64"`
	UserID      string    `gorm:"index;size:128"`
	Mode        string    `gorm:"size:32"`
	Position    string    `gorm:"size:8"`
	Size        string    `gorm:"size:8"`
	ImagePath   string    `gorm:"size:512"`
	VideoPath   string    `gorm:"size:512"` // local path, or archive path after archiving
	RemoteID    string    `gorm:"size:256"` // remote storage file id, empty when not uploaded
	DetectedAt  time.Time `gorm:"index"`
	CreatedAt   time.Time
	Detections  []DetectedObject `gorm:"foreignKey:EventID;constraint:OnDelete:CASCADE"`
}

// DetectedObject is a classified object attached to an event.
type DetectedObject struct {
	ID         uint    `gorm:"primaryKey"`
	EventID    uint    `gorm:"index"`
	Label      string  `gorm:"size:64"`
	Category   string  `gorm:"size:16"` // Human or Animal
	Confidence float32 `gorm:"type:real"`
	X          int
	Y          int
	Width      int
	Height     int
}

// UserPreference holds per-user notification and detection settings.
type UserPreference struct {
	ID            uint   `gorm:"primaryKey"`
	UserID        string `gorm:"uniqueIndex;size:128"`
	Notify        string `gorm:"size:8;default:all"`
	DetectionMode string `gorm:"size:32"`
	UpdatedAt     time.Time
}

// NotifyEnabled reports whether the user receives every notification.
func (p UserPreference) NotifyEnabled() bool {
	return p.Notify == NotifyAll
}
