// internal/pkg/httpclient/client.go

package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// Resolver 把服务名解析成一个健康实例的地址，nacos.Client 实现了它
type Resolver interface {
	DiscoverServiceInstance(serviceName string) (string, int, error)
}

// StatusError 表示下游返回了非 2xx 状态码
type StatusError struct {
	URL        string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s returned status %d: %s", e.URL, e.StatusCode, strings.TrimSpace(e.Body))
}

// Client 是一个可追踪的、可注入的HTTP客户端
type Client struct {
	Tracer     trace.Tracer
	HTTPClient *http.Client
	Resolver   Resolver
}

// NewClient 创建一个新的客户端实例。
// http.Client 不设置 Timeout，完全受控于每次请求传入的 context。
func NewClient(tracer trace.Tracer) *Client {
	return &Client{
		Tracer: tracer,
		HTTPClient: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 100,
			},
		},
	}
}

// WithResolver 返回一个可以按服务名调用的客户端
func (c *Client) WithResolver(r Resolver) *Client {
	cp := *c
	cp.Resolver = r
	return &cp
}

// Do 发送一个 JSON 请求。in 为 nil 时不带请求体，out 为 nil 时丢弃响应体。
func (c *Client) Do(ctx context.Context, method, rawURL string, header http.Header, in, out interface{}) error {
	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return errors.Wrapf(err, "parse url %s", rawURL)
	}
	spanName := fmt.Sprintf("call-%s", strings.Split(parsedURL.Host, ":")[0])

	ctx, span := c.Tracer.Start(ctx, spanName, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			span.RecordError(err)
			return errors.Wrap(err, "marshal request body")
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, parsedURL.String(), body)
	if err != nil {
		span.RecordError(err)
		return err
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	span.SetAttributes(
		attribute.String("http.url", parsedURL.String()),
		attribute.String("http.method", method),
	)
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	defer resp.Body.Close()
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		statusErr := &StatusError{URL: parsedURL.String(), StatusCode: resp.StatusCode, Body: string(raw)}
		span.RecordError(statusErr)
		span.SetStatus(codes.Error, statusErr.Error())
		return statusErr
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		span.RecordError(err)
		return errors.Wrap(err, "decode response body")
	}
	return nil
}

// CallService 通过服务发现找到实例后发起 POST 调用
func (c *Client) CallService(ctx context.Context, serviceName, path string, in, out interface{}) error {
	if c.Resolver == nil {
		return errors.Errorf("no resolver configured to discover %s", serviceName)
	}
	host, port, err := c.Resolver.DiscoverServiceInstance(serviceName)
	if err != nil {
		return err
	}
	return c.Do(ctx, http.MethodPost, fmt.Sprintf("http://%s:%d%s", host, port, path), nil, in, out)
}
