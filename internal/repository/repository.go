// Package repository declares the persistence the traffic services read
// and write beyond what the alert engine needs.
package repository

import (
	"context"

	"github.com/dpup/trafficwatch/server/internal/lib/alerts"
	"github.com/dpup/trafficwatch/server/internal/lib/geo"
	"github.com/dpup/trafficwatch/server/internal/lib/routing"
)

// RegionRepository reads monitoring regions.
type RegionRepository interface {
	ListActiveRegions(ctx context.Context) ([]routing.Region, error)
	ListRegionsByOwner(ctx context.Context, ownerID string) ([]routing.Region, error)
}

// RouteRepository reads saved daily routes.
type RouteRepository interface {
	ListDailyRoutes(ctx context.Context) ([]alerts.DailyRoute, error)
}

// AlertRepository reads and updates alerts.
type AlertRepository interface {
	GetAlert(ctx context.Context, id string) (*alerts.Alert, error)
	UpdateAlertStatus(ctx context.Context, id string, status alerts.Status) (*alerts.Alert, error)
	ListAlertsNear(ctx context.Context, box geo.BoundingBox, statuses []alerts.Status, limit int) ([]alerts.Alert, error)
}

// NotificationRepository reads notifications.
type NotificationRepository interface {
	ListUnreadNotifications(ctx context.Context, userID string, limit int) ([]alerts.Notification, error)
	MarkNotificationRead(ctx context.Context, userID, notificationID string) error
}
