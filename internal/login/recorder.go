// Package login はログイン履歴の記録とクライアント環境の付帯情報収集を提供する。
package login

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hitoshi/memberportal/internal/device"
	"github.com/hitoshi/memberportal/internal/model"
	"github.com/hitoshi/memberportal/internal/security"
	"github.com/hitoshi/memberportal/internal/validation"
)

// EventStore はログイン履歴の書き込み先インターフェース。
type EventStore interface {
	Create(ctx context.Context, event *model.LoginEvent) error
}

// UserTouch はログイン時にユーザーのlast_login/last_activityを更新するインターフェース。
type UserTouch interface {
	UpdateLoginTimestamps(ctx context.Context, id, email string, at time.Time) (bool, error)
}

// GeoResolver はIPアドレスから位置情報を解決するインターフェース。
// 解決できなかった場合はnilを返す。
type GeoResolver interface {
	Resolve(ctx context.Context, ip string) *model.GeoSnapshot
}

// Sanitizer はクライアント由来の文字列を無害化するインターフェース。
type Sanitizer interface {
	Sanitize(s string) string
	SanitizeAll(in []string) []string
}

// Metrics はログイン記録のメトリクスを記録するインターフェース。
type Metrics interface {
	RecordLoginRecorded(method string)
}

// Request はtrackLoginのリクエストボディ。
// ip_address / geo / device はクライアントが収集できた場合のみ送られる。
type Request struct {
	UserID      string             `json:"user_id" validate:"required"`
	Email       string             `json:"email" validate:"required,email,max=320"`
	LoginMethod string             `json:"login_method,omitempty"`
	IPAddress   string             `json:"ip_address,omitempty"`
	Geo         *model.GeoSnapshot `json:"geo,omitempty"`
	Device      *model.DeviceInfo  `json:"device,omitempty"`
}

// Recorder はログイン履歴を1件記録し、ユーザーの最終ログイン日時を更新する。
type Recorder struct {
	events    EventStore
	users     UserTouch
	resolver  GeoResolver
	sanitizer Sanitizer
	metrics   Metrics
	now       func() time.Time
	logger    *slog.Logger
}

// Option はRecorderの任意設定。
type Option func(*Recorder)

// WithMetrics はメトリクス記録先を設定する。
func WithMetrics(m Metrics) Option {
	return func(r *Recorder) {
		r.metrics = m
	}
}

// WithLogger はロガーを設定する。
func WithLogger(l *slog.Logger) Option {
	return func(r *Recorder) {
		r.logger = l
	}
}

// WithClock は現在時刻の取得関数を差し替える。
func WithClock(now func() time.Time) Option {
	return func(r *Recorder) {
		r.now = now
	}
}

// WithSanitizer はクライアント由来文字列の無害化処理を差し替える。
func WithSanitizer(s Sanitizer) Option {
	return func(r *Recorder) {
		r.sanitizer = s
	}
}

// NewRecorder はRecorderを生成する。resolverがnilの場合、位置情報の補完は行わない。
func NewRecorder(events EventStore, users UserTouch, resolver GeoResolver, opts ...Option) *Recorder {
	r := &Recorder{
		events:    events,
		users:     users,
		resolver:  resolver,
		sanitizer: security.NewTextSanitizer(security.DefaultMaxTextLength),
		now:       time.Now,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Record はログイン履歴を記録する。
// user_id / email が欠けている場合は*model.APIErrorを返す。
// 履歴の書き込みに失敗した場合のみエラーとし、last_loginの更新失敗はログに残して無視する。
func (r *Recorder) Record(ctx context.Context, req Request, h http.Header) (*model.LoginEvent, error) {
	req.UserID = strings.TrimSpace(req.UserID)
	req.Email = strings.TrimSpace(req.Email)
	if err := validation.Struct(req); err != nil {
		return nil, err
	}

	ip := r.resolveIP(req.IPAddress, h)
	now := r.now()

	event := &model.LoginEvent{
		UserID:      req.UserID,
		Email:       model.NormalizeEmail(req.Email),
		IPAddress:   ip,
		Geo:         r.resolveGeo(ctx, req.Geo, ip),
		Device:      r.resolveDevice(req.Device, h),
		LoginMethod: model.ParseLoginMethod(req.LoginMethod),
		LoginTime:   now,
	}

	fitColumns(event)

	if err := r.events.Create(ctx, event); err != nil {
		return nil, fmt.Errorf("failed to insert login event: %w", err)
	}

	matched, err := r.users.UpdateLoginTimestamps(ctx, event.UserID, event.Email, now)
	switch {
	case err != nil:
		r.logger.Warn("failed to update last_login",
			slog.String("user_id", event.UserID),
			slog.String("error", err.Error()),
		)
	case !matched:
		r.logger.Warn("no user matched for last_login update",
			slog.String("user_id", event.UserID),
			slog.String("email", event.Email),
		)
	}

	if r.metrics != nil {
		r.metrics.RecordLoginRecorded(string(event.LoginMethod))
	}

	r.logger.Info("login recorded",
		slog.String("login_id", event.ID),
		slog.String("user_id", event.UserID),
		slog.String("ip_address", event.IPAddress),
		slog.String("country", event.Geo.Country),
		slog.String("login_method", string(event.LoginMethod)),
	)

	return event, nil
}

// resolveIP はクライアント申告のIPを優先し、なければプロキシヘッダーから導出する。
func (r *Recorder) resolveIP(callerIP string, h http.Header) string {
	callerIP = r.sanitizer.Sanitize(callerIP)
	if callerIP != "" && callerIP != model.Unknown {
		return callerIP
	}
	if ip := security.HeaderClientIP(h); ip != "" {
		return ip
	}
	return model.Unknown
}

// resolveGeo はクライアント申告の位置情報が解決済みならそれを使い、
// そうでなければ公開IPに限りサーバー側のプロバイダーで解決する。
func (r *Recorder) resolveGeo(ctx context.Context, callerGeo *model.GeoSnapshot, ip string) model.GeoSnapshot {
	if callerGeo.IsResolved() {
		g := *callerGeo
		for _, f := range []*string{
			&g.Country, &g.CountryCode, &g.City, &g.Region, &g.RegionCode,
			&g.Timezone, &g.ISP, &g.Org, &g.ASN, &g.PostalCode,
		} {
			*f = r.sanitizer.Sanitize(*f)
		}
		g.Normalize()
		return g
	}

	if r.resolver != nil && security.IsPublicIP(ip) {
		if snap := r.resolver.Resolve(ctx, ip); snap != nil {
			return *snap
		}
	}
	return model.UnknownGeo()
}

// resolveDevice はクライアント申告のデバイス情報を無害化し、欠けた項目をリクエストヘッダーから補う。
func (r *Recorder) resolveDevice(callerDevice *model.DeviceInfo, h http.Header) model.DeviceInfo {
	fromHeaders := device.Collect(device.EnvironmentFromHeaders(h))
	if callerDevice == nil {
		return r.sanitizeDevice(fromHeaders)
	}

	d := r.sanitizeDevice(*callerDevice)
	pairs := [][2]*string{
		{&d.DeviceType, &fromHeaders.DeviceType},
		{&d.Browser, &fromHeaders.Browser},
		{&d.BrowserVersion, &fromHeaders.BrowserVersion},
		{&d.OS, &fromHeaders.OS},
		{&d.UserAgent, &fromHeaders.UserAgent},
		{&d.Language, &fromHeaders.Language},
		{&d.Platform, &fromHeaders.Platform},
		{&d.DoNotTrack, &fromHeaders.DoNotTrack},
	}
	for _, p := range pairs {
		if *p[0] == model.Unknown {
			*p[0] = *p[1]
		}
	}
	if len(d.Languages) == 0 {
		d.Languages = fromHeaders.Languages
	}
	return d
}

func (r *Recorder) sanitizeDevice(d model.DeviceInfo) model.DeviceInfo {
	for _, f := range []*string{
		&d.DeviceType, &d.Browser, &d.BrowserVersion, &d.OS, &d.UserAgent,
		&d.Language, &d.Platform, &d.DoNotTrack, &d.Timezone, &d.ConnectionType,
	} {
		*f = r.sanitizer.Sanitize(*f)
	}
	d.Languages = r.sanitizer.SanitizeAll(d.Languages)
	d.Normalize()
	return d
}

// fitColumns は文字列項目をuser_loginsの列幅に収める。
func fitColumns(e *model.LoginEvent) {
	g := &e.Geo
	for _, c := range []struct {
		field *string
		width int
	}{
		{&e.IPAddress, 64},
		{&g.Country, 128},
		{&g.CountryCode, 16},
		{&g.City, 128},
		{&g.Region, 128},
		{&g.RegionCode, 32},
		{&g.Timezone, 64},
		{&g.ISP, 256},
		{&g.Org, 256},
		{&g.ASN, 64},
		{&g.PostalCode, 32},
	} {
		*c.field = security.TruncateRunes(*c.field, c.width)
	}
}
