package alerts

import (
	"context"
	"time"

	"github.com/dpup/trafficwatch/server/internal/lib/congestion"
	"github.com/dpup/trafficwatch/server/internal/lib/geo"
	"github.com/dpup/trafficwatch/server/internal/lib/routing"
)

// Status is the lifecycle state of an alert. The engine only creates
// PENDING alerts; responders move them on.
type Status string

const (
	StatusPending      Status = "PENDING"
	StatusAcknowledged Status = "ACKNOWLEDGED"
	StatusResolved     Status = "RESOLVED"
	StatusIgnored      Status = "IGNORED"
)

// Valid reports whether s is a known status
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusAcknowledged, StatusResolved, StatusIgnored:
		return true
	}
	return false
}

// NotificationType classifies a notification for clients
type NotificationType string

const (
	TypeTrafficAlert NotificationType = "TRAFFIC_ALERT"
	TypeRouteUpdate  NotificationType = "ROUTE_UPDATE"
)

// EventTrafficAlert is the push event name for alert notifications
const EventTrafficAlert = "traffic_alert"

// Alert is a persisted congestion detection
type Alert struct {
	ID                string              `json:"id"`
	RegionID          *int64              `json:"region_id"`
	SourceUserID      *string             `json:"source_user_id"`
	RelatedRouteID    *string             `json:"related_route_id"`
	Fingerprint       string              `json:"fingerprint"`
	Severity          congestion.Severity `json:"severity"`
	CongestedLengthKm float64             `json:"congested_length_km"`
	Start             geo.Point           `json:"start"`
	End               geo.Point           `json:"end"`
	StartAddress      *string             `json:"start_address"`
	EndAddress        *string             `json:"end_address"`
	Status            Status              `json:"status"`
	DetectedAt        time.Time           `json:"detected_at"`
	ResolvedAt        *time.Time          `json:"resolved_at"`
}

// Notification is a persisted message to one recipient
type Notification struct {
	ID              string                 `json:"id"`
	RecipientUserID string                 `json:"recipient_user_id"`
	AlertID         *string                `json:"alert_id"`
	Type            NotificationType       `json:"type"`
	Title           string                 `json:"title"`
	Message         string                 `json:"message"`
	Data            map[string]interface{} `json:"data,omitempty"`
	IsRead          bool                   `json:"is_read"`
	CreatedAt       time.Time              `json:"created_at"`
}

// DailyRoute is a user's recurring route with an HH:MM alert window
type DailyRoute struct {
	ID             string    `json:"id"`
	OwnerID        string    `json:"owner_id"`
	Name           string    `json:"name"`
	Origin         geo.Point `json:"origin"`
	Destination    geo.Point `json:"destination"`
	AlertTimeStart string    `json:"alert_time_start"`
	AlertTimeEnd   string    `json:"alert_time_end"`
}

// Event is pushed to a recipient through a Publisher
type Event struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// AlertEventPayload is the payload of a traffic_alert event
type AlertEventPayload struct {
	Notification Notification `json:"notification"`
	Alert        *Alert       `json:"alert,omitempty"`
}

// Store is the persistence the engine reads and writes
type Store interface {
	// ListActiveRegions returns active regions with their owner's status
	ListActiveRegions(ctx context.Context) ([]routing.Region, error)

	// FindRecentPendingAlert looks for a PENDING alert with the fingerprint
	// detected at or after since
	FindRecentPendingAlert(ctx context.Context, fingerprint string, since time.Time) (*Alert, bool, error)

	CreateAlert(ctx context.Context, alert *Alert) error
	CreateNotification(ctx context.Context, notification *Notification) error
}

// Publisher delivers events to a user. Delivery guarantees belong to the
// implementation.
type Publisher interface {
	Publish(ctx context.Context, recipientUserID string, event Event) error
}
