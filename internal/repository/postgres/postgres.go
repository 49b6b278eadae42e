package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/smartcity/trafficcore/internal/domain"
)

// PostgresRepository implements domain.TrafficRepository
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a new PostgreSQL repository
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// SaveSegment upserts a road segment
func (r *PostgresRepository) SaveSegment(ctx context.Context, seg domain.RoadSegment) error {
	query := `
		INSERT INTO road_segments (
			id, road_name, city, direction, start_lat, start_lng, end_lat, end_lng,
			length_km, free_flow_speed, has_signal_control
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			road_name = EXCLUDED.road_name, city = EXCLUDED.city, direction = EXCLUDED.direction,
			start_lat = EXCLUDED.start_lat, start_lng = EXCLUDED.start_lng,
			end_lat = EXCLUDED.end_lat, end_lng = EXCLUDED.end_lng,
			length_km = EXCLUDED.length_km, free_flow_speed = EXCLUDED.free_flow_speed,
			has_signal_control = EXCLUDED.has_signal_control
	`

	_, err := r.pool.Exec(ctx, query,
		seg.ID, seg.RoadName, seg.City, seg.Direction,
		seg.Start.Latitude, seg.Start.Longitude, seg.End.Latitude, seg.End.Longitude,
		seg.LengthKm, seg.FreeFlowSpeedKmh, seg.HasSignalControl,
	)
	if err != nil {
		return fmt.Errorf("postgres: failed to save segment: %w", err)
	}
	return nil
}

const segmentColumns = `id, road_name, city, direction, start_lat, start_lng, end_lat, end_lng,
	length_km, free_flow_speed, has_signal_control`

func scanSegment(row pgx.Row) (domain.RoadSegment, error) {
	var s domain.RoadSegment
	err := row.Scan(
		&s.ID, &s.RoadName, &s.City, &s.Direction,
		&s.Start.Latitude, &s.Start.Longitude, &s.End.Latitude, &s.End.Longitude,
		&s.LengthKm, &s.FreeFlowSpeedKmh, &s.HasSignalControl,
	)
	return s, err
}

// GetSegment retrieves a road segment by id
func (r *PostgresRepository) GetSegment(ctx context.Context, id string) (domain.RoadSegment, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+segmentColumns+` FROM road_segments WHERE id = $1`, id)
	seg, err := scanSegment(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.RoadSegment{}, fmt.Errorf("postgres: segment %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.RoadSegment{}, fmt.Errorf("postgres: failed to get segment: %w", err)
	}
	return seg, nil
}

// ListSegments retrieves all road segments
func (r *PostgresRepository) ListSegments(ctx context.Context) ([]domain.RoadSegment, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+segmentColumns+` FROM road_segments ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query segments: %w", err)
	}
	defer rows.Close()

	var results []domain.RoadSegment
	for rows.Next() {
		seg, err := scanSegment(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: failed to scan segment row: %w", err)
		}
		results = append(results, seg)
	}
	return results, rows.Err()
}

// SaveTrafficData persists an anonymized signal
func (r *PostgresRepository) SaveTrafficData(ctx context.Context, s domain.AnonymizedSignal) error {
	query := `
		INSERT INTO traffic_data (
			segment_id, timestamp, avg_speed, density, k_anonymity, anonymized, movement_direction
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := r.pool.Exec(ctx, query,
		s.SegmentID, s.Timestamp, s.AvgSpeed, s.Density, s.KAnonymity, s.Anonymized, s.MovementDirection,
	)
	if err != nil {
		return fmt.Errorf("postgres: failed to save traffic data: %w", err)
	}
	return nil
}

// SaveAnalysis persists a traffic analysis
func (r *PostgresRepository) SaveAnalysis(ctx context.Context, a domain.TrafficAnalysis) error {
	query := `
		INSERT INTO traffic_analyses (
			segment_id, timestamp, congestion_index, congestion_level, delay_minutes,
			avg_speed, density, movement_direction
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := r.pool.Exec(ctx, query,
		a.SegmentID, a.Timestamp, a.CongestionIndex, a.CongestionLevel, a.DelayMinutes,
		a.AvgSpeed, a.Density, a.MovementDirection,
	)
	if err != nil {
		return fmt.Errorf("postgres: failed to save analysis: %w", err)
	}
	return nil
}

const analysisColumns = `segment_id, timestamp, congestion_index, congestion_level, delay_minutes,
	avg_speed, density, movement_direction`

func scanAnalysis(row pgx.Row) (domain.TrafficAnalysis, error) {
	var a domain.TrafficAnalysis
	err := row.Scan(
		&a.SegmentID, &a.Timestamp, &a.CongestionIndex, &a.CongestionLevel, &a.DelayMinutes,
		&a.AvgSpeed, &a.Density, &a.MovementDirection,
	)
	return a, err
}

// LatestAnalysis retrieves the most recent analysis for a segment
func (r *PostgresRepository) LatestAnalysis(ctx context.Context, segmentID string) (*domain.TrafficAnalysis, error) {
	query := `SELECT ` + analysisColumns + ` FROM traffic_analyses
		WHERE segment_id = $1 ORDER BY timestamp DESC, id DESC LIMIT 1`

	a, err := scanAnalysis(r.pool.QueryRow(ctx, query, segmentID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to get latest analysis: %w", err)
	}
	return &a, nil
}

// LatestAnalyses retrieves the most recent analysis of every segment
func (r *PostgresRepository) LatestAnalyses(ctx context.Context) ([]domain.TrafficAnalysis, error) {
	query := `SELECT DISTINCT ON (segment_id) ` + analysisColumns + ` FROM traffic_analyses
		ORDER BY segment_id, timestamp DESC, id DESC`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query analyses: %w", err)
	}
	defer rows.Close()

	var results []domain.TrafficAnalysis
	for rows.Next() {
		a, err := scanAnalysis(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: failed to scan analysis row: %w", err)
		}
		results = append(results, a)
	}
	return results, rows.Err()
}

// CreateBottleneck inserts a bottleneck unless the segment already has an unresolved one.
// The check and insert run under a per-segment advisory lock.
func (r *PostgresRepository) CreateBottleneck(ctx context.Context, b domain.Bottleneck) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, b.SegmentID); err != nil {
			return fmt.Errorf("postgres: failed to lock segment: %w", err)
		}

		var exists bool
		err := tx.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM bottlenecks WHERE segment_id = $1 AND NOT resolved)`,
			b.SegmentID,
		).Scan(&exists)
		if err != nil {
			return fmt.Errorf("postgres: failed to check bottlenecks: %w", err)
		}
		if exists {
			return fmt.Errorf("postgres: segment %s: %w", b.SegmentID, domain.ErrDuplicateBottleneck)
		}

		query := `
			INSERT INTO bottlenecks (
				id, segment_id, detected_at, origin_lat, origin_lng, severity,
				speed_drop_pct, backward_extent_km, upstream_segment_ids, resolved, resolved_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		`
		_, err = tx.Exec(ctx, query,
			b.ID, b.SegmentID, b.DetectedAt, b.Origin.Latitude, b.Origin.Longitude, string(b.Severity),
			b.SpeedDropPct, b.BackwardExtentKm, textArray(b.UpstreamSegmentIDs), b.Resolved, b.ResolvedAt,
		)
		if err != nil {
			return fmt.Errorf("postgres: failed to save bottleneck: %w", err)
		}
		return nil
	})
}

// textArray keeps nil slices out of NOT NULL array columns; pgx encodes nil as NULL
func textArray(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}

const bottleneckColumns = `id, segment_id, detected_at, origin_lat, origin_lng, severity,
	speed_drop_pct, backward_extent_km, upstream_segment_ids, resolved, resolved_at`

func scanBottleneck(row pgx.Row) (domain.Bottleneck, error) {
	var (
		b        domain.Bottleneck
		severity string
	)
	err := row.Scan(
		&b.ID, &b.SegmentID, &b.DetectedAt, &b.Origin.Latitude, &b.Origin.Longitude, &severity,
		&b.SpeedDropPct, &b.BackwardExtentKm, &b.UpstreamSegmentIDs, &b.Resolved, &b.ResolvedAt,
	)
	b.Severity = domain.Severity(severity)
	return b, err
}

// ActiveBottleneck retrieves the unresolved bottleneck of a segment
func (r *PostgresRepository) ActiveBottleneck(ctx context.Context, segmentID string) (*domain.Bottleneck, error) {
	query := `SELECT ` + bottleneckColumns + ` FROM bottlenecks
		WHERE segment_id = $1 AND NOT resolved ORDER BY detected_at DESC LIMIT 1`

	b, err := scanBottleneck(r.pool.QueryRow(ctx, query, segmentID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to get active bottleneck: %w", err)
	}
	return &b, nil
}

// ListActiveBottlenecks retrieves all unresolved bottlenecks
func (r *PostgresRepository) ListActiveBottlenecks(ctx context.Context) ([]domain.Bottleneck, error) {
	query := `SELECT ` + bottleneckColumns + ` FROM bottlenecks
		WHERE NOT resolved ORDER BY detected_at DESC LIMIT 100`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query bottlenecks: %w", err)
	}
	defer rows.Close()

	results := []domain.Bottleneck{}
	for rows.Next() {
		b, err := scanBottleneck(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: failed to scan bottleneck row: %w", err)
		}
		results = append(results, b)
	}
	return results, rows.Err()
}

// ResolveBottleneck marks a bottleneck resolved
func (r *PostgresRepository) ResolveBottleneck(ctx context.Context, id string, at time.Time) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE bottlenecks SET resolved = TRUE, resolved_at = $2 WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("postgres: failed to resolve bottleneck: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: bottleneck %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// SaveDecision persists a decision
func (r *PostgresRepository) SaveDecision(ctx context.Context, d domain.Decision) error {
	details, err := json.Marshal(d.Details)
	if err != nil {
		return fmt.Errorf("postgres: failed to encode decision details: %w", err)
	}

	query := `
		INSERT INTO decisions (
			id, segment_id, decision_type, recommended_at, expected_delay_reduction,
			expected_benefit_score, affected_segments, status, details
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err = r.pool.Exec(ctx, query,
		d.ID, d.SegmentID, string(d.Type), d.RecommendedAt, d.ExpectedDelayReductionMinutes,
		d.ExpectedBenefitScore, textArray(d.AffectedSegments), string(d.Status), string(details),
	)
	if err != nil {
		return fmt.Errorf("postgres: failed to save decision: %w", err)
	}
	return nil
}

// ListDecisions retrieves decisions matching filter, most recent first
func (r *PostgresRepository) ListDecisions(ctx context.Context, filter domain.DecisionFilter) ([]domain.Decision, error) {
	var (
		where []string
		args  []any
	)
	if filter.SegmentID != "" {
		args = append(args, filter.SegmentID)
		where = append(where, fmt.Sprintf("segment_id = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	args = append(args, limit)

	query := `SELECT id, segment_id, decision_type, recommended_at, expected_delay_reduction,
		expected_benefit_score, affected_segments, status, details FROM decisions`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += fmt.Sprintf(" ORDER BY recommended_at DESC LIMIT $%d", len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query decisions: %w", err)
	}
	defer rows.Close()

	results := []domain.Decision{}
	for rows.Next() {
		var (
			d             domain.Decision
			dtype, status string
			details       []byte
		)
		err := rows.Scan(
			&d.ID, &d.SegmentID, &dtype, &d.RecommendedAt, &d.ExpectedDelayReductionMinutes,
			&d.ExpectedBenefitScore, &d.AffectedSegments, &status, &details,
		)
		if err != nil {
			return nil, fmt.Errorf("postgres: failed to scan decision row: %w", err)
		}
		d.Type = domain.DecisionType(dtype)
		d.Status = domain.DecisionStatus(status)
		if len(details) > 0 {
			if err := json.Unmarshal(details, &d.Details); err != nil {
				return nil, fmt.Errorf("postgres: failed to decode decision details: %w", err)
			}
		}
		results = append(results, d)
	}
	return results, rows.Err()
}

// UpdateDecisionStatus sets a decision's workflow status
func (r *PostgresRepository) UpdateDecisionStatus(ctx context.Context, id string, status domain.DecisionStatus) error {
	tag, err := r.pool.Exec(ctx, `UPDATE decisions SET status = $2 WHERE id = $1`, id, string(status))
	if err != nil {
		return fmt.Errorf("postgres: failed to update decision: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: decision %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// SaveRoute persists a new emergency route
func (r *PostgresRepository) SaveRoute(ctx context.Context, route domain.EmergencyRoute) error {
	points, err := json.Marshal(route.Points)
	if err != nil {
		return fmt.Errorf("postgres: failed to encode route points: %w", err)
	}

	query := `
		INSERT INTO emergency_routes (
			id, origin_lat, origin_lng, destination_lat, destination_lng, points, source,
			distance_km, estimated_time, base_time, last_update, update_interval_sec, active
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	_, err = r.pool.Exec(ctx, query,
		route.ID, route.Origin.Latitude, route.Origin.Longitude,
		route.Destination.Latitude, route.Destination.Longitude, string(points), string(route.Source),
		route.DistanceKm, route.EstimatedTimeMinutes, route.BaseTimeMinutes,
		pgTime(route.LastUpdate), route.UpdateIntervalSec, route.Active,
	)
	if err != nil {
		return fmt.Errorf("postgres: failed to save route: %w", err)
	}
	return nil
}

const routeColumns = `id, origin_lat, origin_lng, destination_lat, destination_lng, points, source,
	distance_km, estimated_time, base_time, last_update, update_interval_sec, active`

func scanRoute(row pgx.Row) (domain.EmergencyRoute, error) {
	var (
		route  domain.EmergencyRoute
		points []byte
		source string
	)
	err := row.Scan(
		&route.ID, &route.Origin.Latitude, &route.Origin.Longitude,
		&route.Destination.Latitude, &route.Destination.Longitude, &points, &source,
		&route.DistanceKm, &route.EstimatedTimeMinutes, &route.BaseTimeMinutes,
		&route.LastUpdate, &route.UpdateIntervalSec, &route.Active,
	)
	if err != nil {
		return route, err
	}
	route.Source = domain.RouteSource(source)
	if err := json.Unmarshal(points, &route.Points); err != nil {
		return route, fmt.Errorf("postgres: failed to decode route points: %w", err)
	}
	return route, nil
}

// GetRoute retrieves an emergency route by id
func (r *PostgresRepository) GetRoute(ctx context.Context, id string) (domain.EmergencyRoute, error) {
	route, err := scanRoute(r.pool.QueryRow(ctx, `SELECT `+routeColumns+` FROM emergency_routes WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.EmergencyRoute{}, fmt.Errorf("postgres: route %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.EmergencyRoute{}, fmt.Errorf("postgres: failed to get route: %w", err)
	}
	return route, nil
}

// UpdateRoute overwrites a route only if its stored last_update still equals prevLastUpdate
func (r *PostgresRepository) UpdateRoute(ctx context.Context, route domain.EmergencyRoute, prevLastUpdate time.Time) error {
	points, err := json.Marshal(route.Points)
	if err != nil {
		return fmt.Errorf("postgres: failed to encode route points: %w", err)
	}

	query := `
		UPDATE emergency_routes SET
			points = $2, source = $3, distance_km = $4, estimated_time = $5, base_time = $6,
			last_update = $7, update_interval_sec = $8, active = $9
		WHERE id = $1 AND last_update = $10
	`
	tag, err := r.pool.Exec(ctx, query,
		route.ID, string(points), string(route.Source), route.DistanceKm, route.EstimatedTimeMinutes,
		route.BaseTimeMinutes, pgTime(route.LastUpdate), route.UpdateIntervalSec, route.Active,
		pgTime(prevLastUpdate),
	)
	if err != nil {
		return fmt.Errorf("postgres: failed to update route: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, getErr := r.GetRoute(ctx, route.ID); getErr != nil {
			return getErr
		}
		return fmt.Errorf("postgres: route %s: %w", route.ID, domain.ErrRouteConflict)
	}
	return nil
}

// ListActiveRoutes retrieves all active routes
func (r *PostgresRepository) ListActiveRoutes(ctx context.Context) ([]domain.EmergencyRoute, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+routeColumns+` FROM emergency_routes WHERE active ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query routes: %w", err)
	}
	defer rows.Close()

	results := []domain.EmergencyRoute{}
	for rows.Next() {
		route, err := scanRoute(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: failed to scan route row: %w", err)
		}
		results = append(results, route)
	}
	return results, rows.Err()
}

// Health checks database connectivity
func (r *PostgresRepository) Health(ctx context.Context) error {
	if err := r.pool.Ping(ctx); err != nil {
		return fmt.Errorf("postgres: health check failed: %w", err)
	}
	return nil
}

// pgTime matches timestamptz precision so compare-and-swap reads round-trip
func pgTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}
