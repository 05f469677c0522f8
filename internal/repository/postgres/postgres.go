// Package postgres implements persistence on PostgreSQL with pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dpup/trafficwatch/server/internal/lib/alerts"
	"github.com/dpup/trafficwatch/server/internal/lib/congestion"
	"github.com/dpup/trafficwatch/server/internal/lib/geo"
	"github.com/dpup/trafficwatch/server/internal/lib/routing"
	"github.com/dpup/trafficwatch/server/internal/repository"
)

// Repository implements persistence interfaces on PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// New constructs a Repository.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ensure Repository satisfies interfaces.
var (
	_ alerts.Store                      = (*Repository)(nil)
	_ repository.RegionRepository       = (*Repository)(nil)
	_ repository.RouteRepository        = (*Repository)(nil)
	_ repository.AlertRepository        = (*Repository)(nil)
	_ repository.NotificationRepository = (*Repository)(nil)
)

const regionColumns = `r.id, r.owner_id, u.is_active, r.name, r.kind,
	r.start_lat, r.start_lng, r.end_lat, r.end_lng,
	r.center_lat, r.center_lng, r.radius_km, r.is_active`

const alertColumns = `id, region_id, source_user_id, related_route_id, fingerprint, severity,
	congested_length_km, start_lat, start_lng, end_lat, end_lng,
	start_address, end_address, status, detected_at, resolved_at`

// ListActiveRegions returns active regions joined with their owner's status.
func (r *Repository) ListActiveRegions(ctx context.Context) ([]routing.Region, error) {
	const query = `SELECT ` + regionColumns + `
		FROM regions r JOIN users u ON u.id = r.owner_id
		WHERE r.is_active
		ORDER BY r.id`
	return r.queryRegions(ctx, query)
}

// ListRegionsByOwner returns every region an owner has defined.
func (r *Repository) ListRegionsByOwner(ctx context.Context, ownerID string) ([]routing.Region, error) {
	const query = `SELECT ` + regionColumns + `
		FROM regions r JOIN users u ON u.id = r.owner_id
		WHERE r.owner_id = $1
		ORDER BY r.id`
	return r.queryRegions(ctx, query, ownerID)
}

func (r *Repository) queryRegions(ctx context.Context, query string, args ...any) ([]routing.Region, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var regions []routing.Region
	for rows.Next() {
		region, err := scanRegion(rows)
		if err != nil {
			return nil, err
		}
		regions = append(regions, region)
	}
	return regions, rows.Err()
}

func scanRegion(row pgx.Row) (routing.Region, error) {
	var (
		region                             routing.Region
		kind                               string
		startLat, startLng, endLat, endLng *float64
		centerLat, centerLng, radiusKm     *float64
	)
	if err := row.Scan(&region.ID, &region.OwnerID, &region.OwnerActive, &region.Name, &kind,
		&startLat, &startLng, &endLat, &endLng,
		&centerLat, &centerLng, &radiusKm, &region.IsActive); err != nil {
		return region, err
	}

	region.Boundary = routing.Boundary{
		Kind:     routing.BoundaryKind(kind),
		Start:    pointOf(startLat, startLng),
		End:      pointOf(endLat, endLng),
		Center:   pointOf(centerLat, centerLng),
		RadiusKm: valueOf(radiusKm),
	}
	return region, nil
}

// ListDailyRoutes returns daily routes of active users that have an alert window.
func (r *Repository) ListDailyRoutes(ctx context.Context) ([]alerts.DailyRoute, error) {
	const query = `SELECT rt.id, rt.owner_id, rt.name, rt.origin_lat, rt.origin_lng,
			rt.destination_lat, rt.destination_lng, rt.alert_time_start, rt.alert_time_end
		FROM routes rt JOIN users u ON u.id = rt.owner_id
		WHERE rt.is_daily AND u.is_active
			AND rt.alert_time_start IS NOT NULL AND rt.alert_time_end IS NOT NULL
		ORDER BY rt.id`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var routes []alerts.DailyRoute
	for rows.Next() {
		var route alerts.DailyRoute
		if err := rows.Scan(&route.ID, &route.OwnerID, &route.Name,
			&route.Origin.Latitude, &route.Origin.Longitude,
			&route.Destination.Latitude, &route.Destination.Longitude,
			&route.AlertTimeStart, &route.AlertTimeEnd); err != nil {
			return nil, err
		}
		routes = append(routes, route)
	}
	return routes, rows.Err()
}

// FindRecentPendingAlert returns the newest PENDING alert with the
// fingerprint detected at or after since.
func (r *Repository) FindRecentPendingAlert(ctx context.Context, fingerprint string, since time.Time) (*alerts.Alert, bool, error) {
	const query = `SELECT ` + alertColumns + ` FROM alerts
		WHERE fingerprint = $1 AND status = 'PENDING' AND detected_at >= $2
		ORDER BY detected_at DESC
		LIMIT 1`
	alert, err := scanAlert(r.pool.QueryRow(ctx, query, fingerprint, since))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return alert, true, nil
}

// CreateAlert inserts an alert.
func (r *Repository) CreateAlert(ctx context.Context, alert *alerts.Alert) error {
	const query = `INSERT INTO alerts (` + alertColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`
	_, err := r.pool.Exec(ctx, query,
		alert.ID, alert.RegionID, alert.SourceUserID, alert.RelatedRouteID, alert.Fingerprint,
		string(alert.Severity), alert.CongestedLengthKm,
		alert.Start.Latitude, alert.Start.Longitude, alert.End.Latitude, alert.End.Longitude,
		alert.StartAddress, alert.EndAddress, string(alert.Status), alert.DetectedAt, alert.ResolvedAt)
	return err
}

// GetAlert fetches an alert by identifier.
func (r *Repository) GetAlert(ctx context.Context, id string) (*alerts.Alert, error) {
	const query = `SELECT ` + alertColumns + ` FROM alerts WHERE id = $1`
	alert, err := scanAlert(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return alert, nil
}

// UpdateAlertStatus sets an alert's status. resolved_at is stamped when the
// status becomes RESOLVED and cleared otherwise.
func (r *Repository) UpdateAlertStatus(ctx context.Context, id string, status alerts.Status) (*alerts.Alert, error) {
	const query = `UPDATE alerts
		SET status = $2::text,
			resolved_at = CASE WHEN $2::text = 'RESOLVED' THEN $3::timestamptz ELSE NULL END
		WHERE id = $1
		RETURNING ` + alertColumns
	alert, err := scanAlert(r.pool.QueryRow(ctx, query, id, string(status), time.Now().UTC()))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return alert, nil
}

// ListAlertsNear returns the newest alerts starting inside box with one of
// the given statuses.
func (r *Repository) ListAlertsNear(ctx context.Context, box geo.BoundingBox, statuses []alerts.Status, limit int) ([]alerts.Alert, error) {
	const query = `SELECT ` + alertColumns + ` FROM alerts
		WHERE start_lat BETWEEN $1 AND $2
			AND start_lng BETWEEN $3 AND $4
			AND status = ANY($5)
		ORDER BY detected_at DESC
		LIMIT $6`

	names := make([]string, len(statuses))
	for i, s := range statuses {
		names[i] = string(s)
	}

	rows, err := r.pool.Query(ctx, query,
		box.MinLatitude, box.MaxLatitude, box.MinLongitude, box.MaxLongitude, names, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []alerts.Alert
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *alert)
	}
	return result, rows.Err()
}

func scanAlert(row pgx.Row) (*alerts.Alert, error) {
	var (
		a                alerts.Alert
		severity, status string
	)
	if err := row.Scan(&a.ID, &a.RegionID, &a.SourceUserID, &a.RelatedRouteID, &a.Fingerprint, &severity,
		&a.CongestedLengthKm, &a.Start.Latitude, &a.Start.Longitude, &a.End.Latitude, &a.End.Longitude,
		&a.StartAddress, &a.EndAddress, &status, &a.DetectedAt, &a.ResolvedAt); err != nil {
		return nil, err
	}
	a.Severity = congestion.Severity(severity)
	a.Status = alerts.Status(status)
	return &a, nil
}

// CreateNotification inserts a notification.
func (r *Repository) CreateNotification(ctx context.Context, n *alerts.Notification) error {
	const query = `INSERT INTO notifications (id, recipient_user_id, alert_id, type, title, message, data, is_read, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	data := n.Data
	if data == nil {
		data = map[string]interface{}{}
	}
	_, err := r.pool.Exec(ctx, query,
		n.ID, n.RecipientUserID, n.AlertID, string(n.Type), n.Title, n.Message, data, n.IsRead, n.CreatedAt)
	return err
}

// ListUnreadNotifications returns a user's newest unread notifications.
func (r *Repository) ListUnreadNotifications(ctx context.Context, userID string, limit int) ([]alerts.Notification, error) {
	const query = `SELECT id, recipient_user_id, alert_id, type, title, message, data, is_read, created_at
		FROM notifications
		WHERE recipient_user_id = $1 AND NOT is_read
		ORDER BY created_at DESC
		LIMIT $2`
	rows, err := r.pool.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []alerts.Notification
	for rows.Next() {
		var (
			n    alerts.Notification
			kind string
		)
		if err := rows.Scan(&n.ID, &n.RecipientUserID, &n.AlertID, &kind, &n.Title, &n.Message,
			&n.Data, &n.IsRead, &n.CreatedAt); err != nil {
			return nil, err
		}
		n.Type = alerts.NotificationType(kind)
		result = append(result, n)
	}
	return result, rows.Err()
}

// MarkNotificationRead marks one of a user's notifications as read.
func (r *Repository) MarkNotificationRead(ctx context.Context, userID, notificationID string) error {
	const query = `UPDATE notifications SET is_read = TRUE WHERE id = $1 AND recipient_user_id = $2`
	tag, err := r.pool.Exec(ctx, query, notificationID, userID)
	if err != nil {
		return fmt.Errorf("mark notification read: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func pointOf(lat, lng *float64) geo.Point {
	return geo.Point{Latitude: valueOf(lat), Longitude: valueOf(lng)}
}

func valueOf(f *float64) float64 {
	if f == nil {
		return 0
	}
	return *f
}
