// Package datastore persists motion events, detected objects and user preferences with GORM.
package datastore

import (
	"cmp"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"gorm.io/gorm"

	"github.com/tphakala/motioncam/internal/conf"
	"github.com/tphakala/motioncam/internal/errors"
	"github.com/tphakala/motioncam/internal/logger"
)

const (
	preferenceTTL = 5 * time.Minute
	slowQuery     = 200 * time.Millisecond
)

// Interface is the event store used by the monitor and the API.
type Interface interface {
	Open() error
	Close() error
	SaveEvent(event *MotionEvent, detections []DetectedObject) error
	UpdateEventMedia(id uint, videoPath, remoteID string) error
	GetEvent(id uint) (*MotionEvent, error)
	LatestEvents(limit int) ([]MotionEvent, error)
	GetPreference(userID string) (UserPreference, error)
	SavePreference(pref *UserPreference) error
}

// DataStore implements Interface on top of a GORM connection.
type DataStore struct {
	DB *gorm.DB

	prefsOnce sync.Once
	prefs     *cache.Cache
}

// New returns the store selected in settings, or nil when no database is enabled.
func New(settings *conf.Settings) Interface {
	switch {
	case settings.Output.SQLite.Enabled:
		return &SQLiteStore{Settings: settings}
	case settings.Output.MySQL.Enabled:
		return &MySQLStore{Settings: settings}
	default:
		return nil
	}
}

func (ds *DataStore) checkOpen(op string) error {
	if ds.DB == nil {
		return errors.Newf("database connection is not initialized").
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("operation", op).
			Build()
	}
	return nil
}

// prefCache is shared by the monitor and the API goroutines.
func (ds *DataStore) prefCache() *cache.Cache {
	ds.prefsOnce.Do(func() {
		// no janitor, expired entries are replaced on the next read
		ds.prefs = cache.New(preferenceTTL, 0)
	})
	return ds.prefs
}

// SaveEvent stores an event and its detections in one transaction.
// Detections are de-duplicated by label, keeping the most confident one.
func (ds *DataStore) SaveEvent(event *MotionEvent, detections []DetectedObject) error {
	if err := ds.checkOpen("save_event"); err != nil {
		return err
	}
	if event == nil {
		return errors.Newf("event is nil").
			Component("datastore").
			Category(errors.CategoryValidation).
			Build()
	}

	event.Detections = nil
	unique := DedupeDetections(detections)

	err := ds.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(event).Error; err != nil {
			return err
		}
		for i := range unique {
			unique[i].ID = 0
			unique[i].EventID = event.ID
		}
		if len(unique) > 0 {
			if err := tx.Create(&unique).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return errors.New(err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("operation", "save_event").
			Context("event_id", event.EventID).
			Build()
	}

	event.Detections = unique
	GetLogger().Debug("event saved",
		logger.String("event_id", event.EventID),
		logger.Int("detections", len(unique)))
	return nil
}

// DedupeDetections keeps one detection per label, the one with the highest confidence.
// Labels compare case-insensitively; order follows the first occurrence.
func DedupeDetections(detections []DetectedObject) []DetectedObject {
	out := make([]DetectedObject, 0, len(detections))
	index := make(map[string]int, len(detections))
	for _, d := range detections {
		key := strings.ToLower(strings.TrimSpace(d.Label))
		if i, ok := index[key]; ok {
			if d.Confidence > out[i].Confidence {
				out[i] = d
			}
			continue
		}
		index[key] = len(out)
		out = append(out, d)
	}
	return out
}

// UpdateEventMedia records where an event's video ended up.
func (ds *DataStore) UpdateEventMedia(id uint, videoPath, remoteID string) error {
	if err := ds.checkOpen("update_event_media"); err != nil {
		return err
	}
	result := ds.DB.Model(&MotionEvent{}).Where("id = ?", id).
		Updates(map[string]any{"video_path": videoPath, "remote_id": remoteID})
	if result.Error != nil {
		return errors.New(result.Error).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("operation", "update_event_media").
			Context("id", id).
			Build()
	}
	if result.RowsAffected == 0 {
		return errors.Newf("event %d not found", id).
			Component("datastore").
			Category(errors.CategoryNotFound).
			Context("operation", "update_event_media").
			Build()
	}
	return nil
}

// GetEvent loads an event with its detections.
func (ds *DataStore) GetEvent(id uint) (*MotionEvent, error) {
	if err := ds.checkOpen("get_event"); err != nil {
		return nil, err
	}
	var event MotionEvent
	if err := ds.DB.Preload("Detections").First(&event, id).Error; err != nil {
		category := errors.CategoryDatabase
		if errors.Is(err, gorm.ErrRecordNotFound) {
			category = errors.CategoryNotFound
		}
		return nil, errors.New(err).
			Component("datastore").
			Category(category).
			Context("operation", "get_event").
			Context("id", id).
			Build()
	}
	return &event, nil
}

// LatestEvents returns up to limit events, newest first.
func (ds *DataStore) LatestEvents(limit int) ([]MotionEvent, error) {
	if err := ds.checkOpen("latest_events"); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 10
	}
	var events []MotionEvent
	err := ds.DB.Preload("Detections").
		Order("detected_at DESC").Order("id DESC").
		Limit(limit).
		Find(&events).Error
	if err != nil {
		return nil, errors.New(err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("operation", "latest_events").
			Build()
	}
	return events, nil
}

// GetPreference returns the user's preferences. Users without a stored row
// get notifications enabled and no mode override.
func (ds *DataStore) GetPreference(userID string) (UserPreference, error) {
	if err := ds.checkOpen("get_preference"); err != nil {
		return UserPreference{}, err
	}
	if v, ok := ds.prefCache().Get(userID); ok {
		return v.(UserPreference), nil
	}

	var pref UserPreference
	err := ds.DB.Where("user_id = ?", userID).First(&pref).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		pref = UserPreference{UserID: userID, Notify: NotifyAll}
	case err != nil:
		return UserPreference{}, errors.New(err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("operation", "get_preference").
			Context("user_id", userID).
			Build()
	}

	// a concurrent SavePreference keeps its fresher entry
	if err := ds.prefCache().Add(userID, pref, cache.DefaultExpiration); err != nil {
		if v, ok := ds.prefCache().Get(userID); ok {
			return v.(UserPreference), nil
		}
	}
	return pref, nil
}

// SavePreference creates or updates the user's preferences.
func (ds *DataStore) SavePreference(pref *UserPreference) error {
	if err := ds.checkOpen("save_preference"); err != nil {
		return err
	}
	if pref == nil || pref.UserID == "" {
		return errors.Newf("preference requires a user id").
			Component("datastore").
			Category(errors.CategoryValidation).
			Build()
	}
	pref.Notify = cmp.Or(strings.ToLower(strings.TrimSpace(pref.Notify)), NotifyAll)
	if !slices.Contains([]string{NotifyAll, NotifyNone}, pref.Notify) {
		return errors.Newf("invalid notification preference %q", pref.Notify).
			Component("datastore").
			Category(errors.CategoryValidation).
			Context("user_id", pref.UserID).
			Build()
	}

	err := ds.DB.Transaction(func(tx *gorm.DB) error {
		var existing UserPreference
		err := tx.Where("user_id = ?", pref.UserID).First(&existing).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			pref.ID = 0
			return tx.Create(pref).Error
		case err != nil:
			return err
		}
		pref.ID = existing.ID
		return tx.Model(&existing).Updates(map[string]any{
			"notify":         pref.Notify,
			"detection_mode": pref.DetectionMode,
		}).Error
	})
	if err != nil {
		return errors.New(err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("operation", "save_preference").
			Context("user_id", pref.UserID).
			Build()
	}

	ds.prefCache().Set(pref.UserID, *pref, cache.DefaultExpiration)
	return nil
}

// performAutoMigration migrates the schema of all models.
func performAutoMigration(db *gorm.DB, debug bool, dbType, connectionInfo string) error {
	if err := db.AutoMigrate(&MotionEvent{}, &DetectedObject{}, &UserPreference{}); err != nil {
		return errors.New(err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("operation", "auto_migrate").
			Context("db_type", dbType).
			Build()
	}

	if debug {
		GetLogger().Debug("database connection initialized",
			logger.String("db_type", dbType),
			logger.String("connection", logger.RedactSensitiveData(connectionInfo)))
	}
	return nil
}

func createGormLogger() *logger.GormLoggerAdapter {
	return logger.NewGormLoggerAdapter(GetLogger(), slowQuery)
}

func closeDB(db *gorm.DB, dbType string) error {
	if db == nil {
		return nil
	}
	sqlDB, err := db.DB()
	if err != nil {
		return errors.New(err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("operation", "close").
			Context("db_type", dbType).
			Build()
	}
	if err := sqlDB.Close(); err != nil {
		return errors.New(err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("operation", "close").
			Context("db_type", dbType).
			Build()
	}
	return nil
}
