package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dpup/trafficwatch/server/internal/lib/alerts"
	"github.com/dpup/trafficwatch/server/internal/lib/congestion"
	"github.com/dpup/trafficwatch/server/internal/lib/geo"
	"github.com/dpup/trafficwatch/server/internal/lib/routing"
	"github.com/dpup/trafficwatch/server/internal/repository"
)

// Runs against a disposable database named by TRAFFICWATCH_TEST_DATABASE_URL
func newTestRepository(t *testing.T) (*Repository, *pgxpool.Pool) {
	t.Helper()

	dsn := os.Getenv("TRAFFICWATCH_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TRAFFICWATCH_TEST_DATABASE_URL not set, skipping postgres integration test")
	}

	ctx := context.Background()
	require.NoError(t, Migrate(ctx, dsn, zap.NewNop().Sugar()))

	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	return New(pool), pool
}

func seedUser(t *testing.T, pool *pgxpool.Pool, active bool) string {
	t.Helper()
	id := uuid.NewString()
	_, err := pool.Exec(context.Background(), `INSERT INTO users (id, is_active) VALUES ($1, $2)`, id, active)
	require.NoError(t, err)
	return id
}

func TestRepository_AlertLifecycle(t *testing.T) {
	repo, pool := newTestRepository(t)
	ctx := context.Background()

	owner := seedUser(t, pool, true)
	var regionID int64
	err := pool.QueryRow(ctx, `INSERT INTO regions (owner_id, name, kind, center_lat, center_lng, radius_km)
		VALUES ($1, 'Calaveras', 'radius', 38.1391, -120.4561, 5) RETURNING id`, owner).Scan(&regionID)
	require.NoError(t, err)

	regions, err := repo.ListRegionsByOwner(ctx, owner)
	require.NoError(t, err)
	require.Len(t, regions, 1)
	assert.Equal(t, routing.Radius, regions[0].Boundary.Kind)
	assert.InDelta(t, 5.0, regions[0].Boundary.RadiusKm, 1e-9)
	assert.True(t, regions[0].Eligible())

	fingerprint := alerts.RegionFingerprint(regionID)
	detected := time.Now().UTC().Truncate(time.Microsecond)
	alert := &alerts.Alert{
		ID:                uuid.NewString(),
		RegionID:          &regionID,
		Fingerprint:       fingerprint,
		Severity:          congestion.SeverityMedium,
		CongestedLengthKm: 2.0,
		Start:             geo.Point{Latitude: 38.1391, Longitude: -120.4561},
		End:               geo.Point{Latitude: 38.2458, Longitude: -120.3486},
		Status:            alerts.StatusPending,
		DetectedAt:        detected,
	}
	require.NoError(t, repo.CreateAlert(ctx, alert))

	found, ok, err := repo.FindRecentPendingAlert(ctx, fingerprint, detected.Add(-10*time.Minute))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, alert.ID, found.ID)

	_, ok, err = repo.FindRecentPendingAlert(ctx, fingerprint, detected.Add(time.Second))
	require.NoError(t, err)
	assert.False(t, ok)

	near, err := repo.ListAlertsNear(ctx, geo.Around(alert.Start, 0.1),
		[]alerts.Status{alerts.StatusPending, alerts.StatusAcknowledged}, 50)
	require.NoError(t, err)
	assert.NotEmpty(t, near)

	resolved, err := repo.UpdateAlertStatus(ctx, alert.ID, alerts.StatusResolved)
	require.NoError(t, err)
	assert.Equal(t, alerts.StatusResolved, resolved.Status)
	assert.NotNil(t, resolved.ResolvedAt)

	_, ok, err = repo.FindRecentPendingAlert(ctx, fingerprint, detected.Add(-10*time.Minute))
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = repo.GetAlert(ctx, uuid.NewString())
	assert.ErrorIs(t, err, repository.ErrNotFound)

	notification := &alerts.Notification{
		ID:              uuid.NewString(),
		RecipientUserID: owner,
		AlertID:         &alert.ID,
		Type:            alerts.TypeTrafficAlert,
		Title:           "New Traffic Alert",
		Message:         "Traffic congestion detected: 2.00km",
		Data:            map[string]interface{}{"alertId": alert.ID},
		CreatedAt:       detected,
	}
	require.NoError(t, repo.CreateNotification(ctx, notification))

	unread, err := repo.ListUnreadNotifications(ctx, owner, 10)
	require.NoError(t, err)
	require.Len(t, unread, 1)
	assert.Equal(t, alert.ID, unread[0].Data["alertId"])

	require.NoError(t, repo.MarkNotificationRead(ctx, owner, notification.ID))
	unread, err = repo.ListUnreadNotifications(ctx, owner, 10)
	require.NoError(t, err)
	assert.Empty(t, unread)
}

func TestRepository_DailyRoutes(t *testing.T) {
	repo, pool := newTestRepository(t)
	ctx := context.Background()

	owner := seedUser(t, pool, true)
	routeID := uuid.NewString()
	_, err := pool.Exec(ctx, `INSERT INTO routes (id, owner_id, name, origin_lat, origin_lng, destination_lat, destination_lng, is_daily, alert_time_start, alert_time_end)
		VALUES ($1, $2, 'Commute', 38.0675, -120.5436, 38.1391, -120.4561, TRUE, '07:00', '09:00')`, routeID, owner)
	require.NoError(t, err)

	routes, err := repo.ListDailyRoutes(ctx)
	require.NoError(t, err)

	var got *alerts.DailyRoute
	for i := range routes {
		if routes[i].ID == routeID {
			got = &routes[i]
		}
	}
	require.NotNil(t, got)
	assert.Equal(t, "07:00", got.AlertTimeStart)
	assert.Equal(t, "09:00", got.AlertTimeEnd)
	assert.InDelta(t, 38.0675, got.Origin.Latitude, 1e-9)
}
