package geo

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/memberportal/internal/metrics"
	"github.com/hitoshi/memberportal/internal/model"
)

// maxResponseSize はプロバイダ応答として読み込む最大バイト数。
const maxResponseSize = 64 * 1024

// HTTPDoer はHTTPリクエストを送信するインターフェース。
// *http.Clientが満たす。
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Metrics は位置情報解決で記録するメトリクスのインターフェース。
type Metrics interface {
	RecordGeoAttempt(provider, result string)
	RecordGeoLatency(duration time.Duration)
	RecordGeoCache(hit bool)
}

// Resolver はプロバイダを優先順に問い合わせて位置情報を解決する。
// 問い合わせは逐次で行い、各プロバイダは個別のタイムアウトで打ち切る。
// 全体のタイムアウトは設けない。
type Resolver struct {
	client    HTTPDoer
	providers []Provider
	timeout   time.Duration
	cache     Cache
	cacheTTL  time.Duration
	metrics   Metrics
	logger    *slog.Logger
}

// Option はResolverの任意設定。
type Option func(*Resolver)

// WithCache は解決結果のキャッシュを設定する。
func WithCache(c Cache, ttl time.Duration) Option {
	return func(r *Resolver) {
		r.cache = c
		r.cacheTTL = ttl
	}
}

// WithMetrics はメトリクス収集先を設定する。
func WithMetrics(m Metrics) Option {
	return func(r *Resolver) {
		r.metrics = m
	}
}

// WithLogger はロガーを設定する。
func WithLogger(l *slog.Logger) Option {
	return func(r *Resolver) {
		r.logger = l
	}
}

// NewResolver はResolverを生成する。
// timeoutはプロバイダ1件あたりのタイムアウト。
func NewResolver(client HTTPDoer, providers []Provider, timeout time.Duration, opts ...Option) *Resolver {
	r := &Resolver{
		client:    client,
		providers: providers,
		timeout:   timeout,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve はIPアドレスの位置情報を返す。
// 全プロバイダが失敗した場合はnilを返す。エラーは返さない。
func (r *Resolver) Resolve(ctx context.Context, ip string) *model.GeoSnapshot {
	start := time.Now()
	defer func() {
		if r.metrics != nil {
			r.metrics.RecordGeoLatency(time.Since(start))
		}
	}()

	if snap := r.lookupCache(ctx, ip); snap != nil {
		return snap
	}

	for _, p := range r.providers {
		if ctx.Err() != nil {
			return nil
		}

		snap, result, err := r.attempt(ctx, p, ip)
		r.recordAttempt(p.Name, result)
		if err != nil {
			r.logger.Warn("geolocation provider failed",
				slog.String("provider", p.Name),
				slog.String("ip", ip),
				slog.String("result", result),
				slog.String("error", err.Error()),
			)
			continue
		}

		r.storeCache(ctx, ip, snap)
		return snap
	}

	return nil
}

// ResolveOrUnknown はResolveの結果を返す。解決できなかった場合は全項目Unknownのスナップショットを返す。
func (r *Resolver) ResolveOrUnknown(ctx context.Context, ip string) model.GeoSnapshot {
	if snap := r.Resolve(ctx, ip); snap != nil {
		return *snap
	}
	return model.UnknownGeo()
}

// attempt はプロバイダ1件に問い合わせる。失敗時は結果ラベルとエラーを返す。
func (r *Resolver) attempt(ctx context.Context, p Provider, ip string) (snap *model.GeoSnapshot, result string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			snap, result, err = nil, metrics.GeoResultError, fmt.Errorf("provider panicked: %v", rec)
		}
	}()

	attemptCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, p.BuildURL(ip), nil)
	if err != nil {
		return nil, metrics.GeoResultError, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
			return nil, metrics.GeoResultTimeout, fmt.Errorf("timed out after %s: %w", r.timeout, err)
		}
		return nil, metrics.GeoResultError, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, metrics.GeoResultError, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
			return nil, metrics.GeoResultTimeout, fmt.Errorf("timed out reading body: %w", err)
		}
		return nil, metrics.GeoResultError, fmt.Errorf("failed to read body: %w", err)
	}

	snap, ok := p.Parse(body)
	if !ok || snap == nil {
		return nil, metrics.GeoResultMiss, errors.New("provider rejected payload")
	}
	return snap, metrics.GeoResultHit, nil
}

func (r *Resolver) recordAttempt(provider, result string) {
	if r.metrics != nil {
		r.metrics.RecordGeoAttempt(provider, result)
	}
}

func (r *Resolver) lookupCache(ctx context.Context, ip string) *model.GeoSnapshot {
	if r.cache == nil {
		return nil
	}
	snap, err := r.cache.Get(ctx, ip)
	if err != nil {
		r.logger.Warn("geolocation cache read failed",
			slog.String("ip", ip),
			slog.String("error", err.Error()),
		)
		return nil
	}
	if r.metrics != nil {
		r.metrics.RecordGeoCache(snap != nil)
	}
	return snap
}

func (r *Resolver) storeCache(ctx context.Context, ip string, snap *model.GeoSnapshot) {
	if r.cache == nil {
		return
	}
	if err := r.cache.Set(ctx, ip, snap, r.cacheTTL); err != nil {
		r.logger.Warn("geolocation cache write failed",
			slog.String("ip", ip),
			slog.String("error", err.Error()),
		)
	}
}
