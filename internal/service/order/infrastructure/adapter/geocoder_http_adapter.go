package adapter

import (
	"context"
	"net/http"
	"strings"

	"github.com/pkg/errors"

	"tableside/internal/pkg/httpclient"
	"tableside/internal/service/order/domain"
	"tableside/internal/service/order/domain/port"
)

const geocoderResolvePath = "/resolve"

type resolveRequest struct {
	Address string  `json:"address"`
	Lat     float64 `json:"origin_lat"`
	Lng     float64 `json:"origin_lng"`
}

// GeocoderHTTPAdapter 实现了 port.Geocoder。
// 配置了 baseURL 时直接调用，否则通过 Nacos 发现 serviceName。
type GeocoderHTTPAdapter struct {
	client      *httpclient.Client
	serviceName string
	baseURL     string
}

func NewGeocoderHTTPAdapter(client *httpclient.Client, serviceName, baseURL string) *GeocoderHTTPAdapter {
	return &GeocoderHTTPAdapter{client: client, serviceName: serviceName, baseURL: strings.TrimRight(baseURL, "/")}
}

func (a *GeocoderHTTPAdapter) Resolve(ctx context.Context, address string, origin domain.Geocoordinate) (port.Resolution, error) {
	req := resolveRequest{Address: address, Lat: origin.Lat, Lng: origin.Lng}

	var (
		res port.Resolution
		err error
	)
	if a.baseURL != "" {
		err = a.client.Do(ctx, http.MethodPost, a.baseURL+geocoderResolvePath, nil, req, &res)
	} else {
		err = a.client.CallService(ctx, a.serviceName, geocoderResolvePath, req, &res)
	}
	if err != nil {
		return port.Resolution{}, err
	}
	if res.DistanceKm < 0 {
		return port.Resolution{}, errors.Errorf("geocoder returned negative distance %v", res.DistanceKm)
	}
	return res, nil
}
