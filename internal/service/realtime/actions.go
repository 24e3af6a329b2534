package realtime

import (
	"context"
	"net"
	"time"

	"github.com/pkg/errors"

	"tableside/internal/pkg/apperr"
	"tableside/internal/pkg/logger"
	orderdomain "tableside/internal/service/order/domain"
	requestdomain "tableside/internal/service/request/domain"
)

// StatusAPI 是角色客户端调用的权威写入接口
type StatusAPI interface {
	SetOrderStatus(ctx context.Context, orderID string, target orderdomain.Status) (orderdomain.Order, error)
	GetOrder(ctx context.Context, orderID string) (orderdomain.Order, error)
	SetRequestStatus(ctx context.Context, requestID string, target requestdomain.Status) (requestdomain.ServiceRequest, error)
	GetRequest(ctx context.Context, requestID string) (requestdomain.ServiceRequest, error)
}

// Actions 是界面上的状态按钮。
// 调用成功后不修改本地视图，状态变化通过事件流回到视图。
type Actions struct {
	api     StatusAPI
	timeout time.Duration
}

func NewActions(api StatusAPI, timeout time.Duration) *Actions {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Actions{api: api, timeout: timeout}
}

// Transition 请求订单流转。
// 超时时不重试，而是重新读取权威状态，并返回 apperr.ErrOutcomeUnknown 和读到的订单。
func (a *Actions) Transition(ctx context.Context, orderID string, target orderdomain.Status) (orderdomain.Order, error) {
	cctx, cancel := context.WithTimeout(ctx, a.timeout)
	o, err := a.api.SetOrderStatus(cctx, orderID, target)
	cancel()
	if err == nil || !isTimeout(ctx, err) {
		return o, err
	}

	logger.Ctx(ctx).Warn().Err(err).Str("order_id", orderID).Str("target", string(target)).
		Msg("⚠️ transition timed out, re-reading authoritative status")

	rctx, rcancel := context.WithTimeout(ctx, a.timeout)
	defer rcancel()
	current, ferr := a.api.GetOrder(rctx, orderID)
	if ferr != nil {
		return orderdomain.Order{}, errors.Wrapf(apperr.ErrOutcomeUnknown, "order %s: re-read failed: %v", orderID, ferr)
	}
	return current, errors.Wrapf(apperr.ErrOutcomeUnknown, "order %s is now %s", orderID, current.Status)
}

// ResolveRequest 与 Transition 相同，作用于服务请求
func (a *Actions) ResolveRequest(ctx context.Context, requestID string, target requestdomain.Status) (requestdomain.ServiceRequest, error) {
	cctx, cancel := context.WithTimeout(ctx, a.timeout)
	r, err := a.api.SetRequestStatus(cctx, requestID, target)
	cancel()
	if err == nil || !isTimeout(ctx, err) {
		return r, err
	}

	logger.Ctx(ctx).Warn().Err(err).Str("request_id", requestID).Str("target", string(target)).
		Msg("⚠️ request resolution timed out, re-reading authoritative status")

	rctx, rcancel := context.WithTimeout(ctx, a.timeout)
	defer rcancel()
	current, ferr := a.api.GetRequest(rctx, requestID)
	if ferr != nil {
		return requestdomain.ServiceRequest{}, errors.Wrapf(apperr.ErrOutcomeUnknown, "request %s: re-read failed: %v", requestID, ferr)
	}
	return current, errors.Wrapf(apperr.ErrOutcomeUnknown, "request %s is now %s", requestID, current.Status)
}

// isTimeout 只把本次调用自己的超时当作结果未知，调用方主动取消不算
func isTimeout(parent context.Context, err error) bool {
	if parent.Err() != nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
