package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/memberportal/internal/model"
)

// PostgresLoginEventRepo はPostgreSQLを使用したログイン履歴リポジトリ。
type PostgresLoginEventRepo struct {
	db *sql.DB
}

// NewPostgresLoginEventRepo はPostgresLoginEventRepoを生成する。
func NewPostgresLoginEventRepo(db *sql.DB) *PostgresLoginEventRepo {
	return &PostgresLoginEventRepo{db: db}
}

// Create はログイン履歴を1件追加する。
// GeoSnapshotは列に展開し、DeviceInfoはJSONBとして保存する。
func (r *PostgresLoginEventRepo) Create(ctx context.Context, event *model.LoginEvent) error {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.LoginTime.IsZero() {
		event.LoginTime = time.Now()
	}
	event.CreatedAt = time.Now()

	event.Geo.Normalize()
	event.Device.Normalize()
	device, err := json.Marshal(event.Device)
	if err != nil {
		return fmt.Errorf("failed to marshal device info: %w", err)
	}

	g := event.Geo
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO user_logins (
			id, user_id, email, ip_address,
			country, country_code, city, region, region_code, timezone,
			isp, org, asn, latitude, longitude, postal_code,
			device, login_method, login_time, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)`,
		event.ID, event.UserID, event.Email, event.IPAddress,
		g.Country, g.CountryCode, g.City, g.Region, g.RegionCode, g.Timezone,
		g.ISP, g.Org, g.ASN, nullFloat(g.Latitude), nullFloat(g.Longitude), g.PostalCode,
		device, string(event.LoginMethod), event.LoginTime, event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert login event: %w", err)
	}
	return nil
}

// ListByUser は指定ユーザーのログイン履歴を新しい順に取得する。
func (r *PostgresLoginEventRepo) ListByUser(ctx context.Context, userID string, limit int) ([]model.LoginEvent, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, email, ip_address,
			country, country_code, city, region, region_code, timezone,
			isp, org, asn, latitude, longitude, postal_code,
			device, login_method, login_time, created_at
		 FROM user_logins
		 WHERE user_id = $1
		 ORDER BY login_time DESC
		 LIMIT $2`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list login events: %w", err)
	}
	defer rows.Close()

	var events []model.LoginEvent
	for rows.Next() {
		var e model.LoginEvent
		var lat, lng sql.NullFloat64
		var device []byte
		var method string
		if err := rows.Scan(
			&e.ID, &e.UserID, &e.Email, &e.IPAddress,
			&e.Geo.Country, &e.Geo.CountryCode, &e.Geo.City, &e.Geo.Region, &e.Geo.RegionCode, &e.Geo.Timezone,
			&e.Geo.ISP, &e.Geo.Org, &e.Geo.ASN, &lat, &lng, &e.Geo.PostalCode,
			&device, &method, &e.LoginTime, &e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan login event: %w", err)
		}
		if lat.Valid {
			e.Geo.Latitude = &lat.Float64
		}
		if lng.Valid {
			e.Geo.Longitude = &lng.Float64
		}
		if err := json.Unmarshal(device, &e.Device); err != nil {
			return nil, fmt.Errorf("failed to unmarshal device info: %w", err)
		}
		e.LoginMethod = model.ParseLoginMethod(method)
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate login events: %w", err)
	}
	return events, nil
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

// compile-time interface check
var _ LoginEventRepository = (*PostgresLoginEventRepo)(nil)
