package login

import (
	"context"
	"log/slog"

	"github.com/hitoshi/memberportal/internal/device"
	"github.com/hitoshi/memberportal/internal/model"
)

// IPDiscoverer は自身の公開IPアドレスを問い合わせるインターフェース。
type IPDiscoverer interface {
	Discover(ctx context.Context) (string, error)
}

// Enrichment はクライアント側で収集したログインの付帯情報。
type Enrichment struct {
	IPAddress string
	Geo       model.GeoSnapshot
	Device    model.DeviceInfo
}

// Apply は付帯情報をリクエストに設定する。
func (e Enrichment) Apply(req *Request) {
	req.IPAddress = e.IPAddress
	geo := e.Geo
	req.Geo = &geo
	dev := e.Device
	req.Device = &dev
}

// ClientEnricher はクライアント側でIP・位置情報・デバイス情報を収集する。
// いずれの失敗も "Unknown" に縮退し、エラーは返さない。
type ClientEnricher struct {
	discoverer  IPDiscoverer
	resolver    GeoResolver
	environment func() device.Environment
	logger      *slog.Logger
}

// NewClientEnricher はClientEnricherを生成する。
// resolverにはクライアント用のプロバイダー構成（geo.ClientProviders）を渡す。
func NewClientEnricher(discoverer IPDiscoverer, resolver GeoResolver, environment func() device.Environment) *ClientEnricher {
	if environment == nil {
		environment = func() device.Environment { return device.Environment{} }
	}
	return &ClientEnricher{
		discoverer:  discoverer,
		resolver:    resolver,
		environment: environment,
		logger:      slog.Default(),
	}
}

// Enrich は付帯情報を収集する。
func (e *ClientEnricher) Enrich(ctx context.Context) Enrichment {
	out := Enrichment{
		IPAddress: model.Unknown,
		Geo:       model.UnknownGeo(),
		Device:    device.Collect(e.environment()),
	}

	if e.discoverer == nil {
		return out
	}
	ip, err := e.discoverer.Discover(ctx)
	if err != nil || ip == "" {
		if err != nil {
			e.logger.Warn("public ip discovery failed", slog.String("error", err.Error()))
		}
		return out
	}
	out.IPAddress = ip

	if e.resolver != nil {
		if snap := e.resolver.Resolve(ctx, ip); snap != nil {
			out.Geo = *snap
		}
	}
	return out
}
