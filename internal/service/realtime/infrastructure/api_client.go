package infrastructure

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/pkg/errors"

	"tableside/internal/pkg/apperr"
	"tableside/internal/pkg/httpclient"
	orderdomain "tableside/internal/service/order/domain"
	requestdomain "tableside/internal/service/request/domain"
)

// APIClient 通过 order-service 的 HTTP 接口读取快照和提交状态变更，
// 同时实现 realtime.Snapshotter 和 realtime.StatusAPI。
type APIClient struct {
	http    *httpclient.Client
	baseURL string
	token   string
}

func NewAPIClient(client *httpclient.Client, baseURL, token string) *APIClient {
	return &APIClient{http: client, baseURL: baseURL, token: token}
}

type orderList struct {
	Orders []orderdomain.Order `json:"orders"`
}

type requestList struct {
	Requests []requestdomain.ServiceRequest `json:"requests"`
}

type statusBody struct {
	Status string `json:"status"`
}

func (c *APIClient) ActiveOrders(ctx context.Context, restaurantID string) ([]orderdomain.Order, error) {
	var out orderList
	q := url.Values{"restaurant_id": {restaurantID}, "active": {"true"}}
	err := c.do(ctx, http.MethodGet, "/api/orders?"+q.Encode(), nil, &out)
	return out.Orders, err
}

func (c *APIClient) ActiveRequests(ctx context.Context, restaurantID string) ([]requestdomain.ServiceRequest, error) {
	var out requestList
	q := url.Values{"restaurant_id": {restaurantID}}
	err := c.do(ctx, http.MethodGet, "/api/service-requests?"+q.Encode(), nil, &out)
	return out.Requests, err
}

func (c *APIClient) SetOrderStatus(ctx context.Context, orderID string, target orderdomain.Status) (orderdomain.Order, error) {
	var out orderdomain.Order
	err := c.do(ctx, http.MethodPut, fmt.Sprintf("/api/orders/%s/status", url.PathEscape(orderID)), statusBody{Status: string(target)}, &out)
	return out, err
}

func (c *APIClient) GetOrder(ctx context.Context, orderID string) (orderdomain.Order, error) {
	var out orderdomain.Order
	err := c.do(ctx, http.MethodGet, "/api/orders/"+url.PathEscape(orderID), nil, &out)
	return out, err
}

func (c *APIClient) SetRequestStatus(ctx context.Context, requestID string, target requestdomain.Status) (requestdomain.ServiceRequest, error) {
	var out requestdomain.ServiceRequest
	err := c.do(ctx, http.MethodPut, fmt.Sprintf("/api/service-requests/%s/status", url.PathEscape(requestID)), statusBody{Status: string(target)}, &out)
	return out, err
}

func (c *APIClient) GetRequest(ctx context.Context, requestID string) (requestdomain.ServiceRequest, error) {
	var out requestdomain.ServiceRequest
	err := c.do(ctx, http.MethodGet, "/api/service-requests/"+url.PathEscape(requestID), nil, &out)
	return out, err
}

func (c *APIClient) do(ctx context.Context, method, path string, in, out interface{}) error {
	header := http.Header{}
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}
	err := c.http.Do(ctx, method, c.baseURL+path, header, in, out)
	return translate(err)
}

// translate 把 HTTP 错误还原成共享的错误分类
func translate(err error) error {
	var se *httpclient.StatusError
	if !errors.As(err, &se) {
		return err
	}
	var body apperr.Body
	_ = json.Unmarshal([]byte(se.Body), &body)
	if body.Error == "" {
		body.Error = se.Body
	}

	switch se.StatusCode {
	case http.StatusBadRequest:
		return &apperr.ValidationError{Field: body.Field, Reason: body.Error}
	case http.StatusConflict:
		return &apperr.InvalidTransition{Reason: body.Error}
	case http.StatusBadGateway:
		return &apperr.ResolutionError{Err: errors.New(body.Error)}
	case http.StatusNotFound:
		return errors.Wrap(apperr.ErrNotFound, body.Error)
	case http.StatusUnauthorized:
		return errors.Wrap(apperr.ErrUnauthorized, body.Error)
	case http.StatusForbidden:
		return errors.Wrap(apperr.ErrForbidden, body.Error)
	case http.StatusGatewayTimeout:
		return errors.Wrap(apperr.ErrOutcomeUnknown, body.Error)
	}
	return err
}
