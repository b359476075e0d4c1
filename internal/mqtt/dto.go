package mqtt

import (
	"context"
	"encoding/json"
	"time"

	"github.com/tphakala/motioncam/internal/errors"
)

// EventDTO is the JSON payload published for each processed motion event.
// Field names are the public message contract.
type EventDTO struct {
	EventID     string      `json:"eventId"`
	RecordingID string      `json:"recordingId,omitempty"`
	Node        string      `json:"node"`
	UserID      string      `json:"userId,omitempty"`
	Mode        string      `json:"mode"`
	Position    string      `json:"position"`
	Size        string      `json:"size"`
	DetectedAt  time.Time   `json:"detectedAt"`
	Objects     []ObjectDTO `json:"objects"`
	VideoPath   string      `json:"videoPath,omitempty"`
	RemoteID    string      `json:"remoteId,omitempty"`
}

// ObjectDTO is one classified object in an event payload.
type ObjectDTO struct {
	Label      string  `json:"label"`
	Type       string  `json:"type"`
	Confidence float32 `json:"confidence"`
}

// PublishEvent marshals the event and publishes it to topic.
func PublishEvent(ctx context.Context, c Client, topic string, event EventDTO) error {
	if event.Objects == nil {
		event.Objects = []ObjectDTO{}
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return errors.New(err).
			Component("mqtt").
			Category(errors.CategoryMQTTPublish).
			Context("event_id", event.EventID).
			Build()
	}
	return c.Publish(ctx, topic, string(payload))
}
