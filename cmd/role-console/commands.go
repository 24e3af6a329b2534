package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"tableside/internal/pkg/apperr"
	"tableside/internal/pkg/logger"
	"tableside/internal/service/alert"
	orderdomain "tableside/internal/service/order/domain"
	requestdomain "tableside/internal/service/request/domain"
)

const usage = `commands:
  order <id> <status>     move an order (confirmed, preparing, ready, completed, cancelled)
  request <id> <status>   resolve a service request (acknowledged, completed)
  mute | unmute
  volume <0..1>
  vibrate on|off
  view orders|requests
  seen                    clear the new-order badge`

// actionSurface 是控制台用到的状态按钮
type actionSurface interface {
	Transition(ctx context.Context, orderID string, target orderdomain.Status) (orderdomain.Order, error)
	ResolveRequest(ctx context.Context, requestID string, target requestdomain.Status) (requestdomain.ServiceRequest, error)
}

type console struct {
	actions    actionSurface
	dispatcher *alert.Dispatcher
	out        io.Writer
}

func readCommands(ctx context.Context, in *bufio.Scanner, c *console) {
	for in.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := strings.TrimSpace(in.Text())
		if line == "" {
			continue
		}
		if err := c.execute(ctx, line); err != nil {
			fmt.Fprintln(c.out, "error:", err)
		}
	}
}

func (c *console) execute(ctx context.Context, line string) error {
	args := strings.Fields(line)
	switch args[0] {
	case "order":
		if len(args) != 3 {
			return errors.New("usage: order <id> <status>")
		}
		o, err := c.actions.Transition(ctx, args[1], orderdomain.Status(args[2]))
		return c.report("order", args[1], string(o.Status), err)
	case "request":
		if len(args) != 3 {
			return errors.New("usage: request <id> <status>")
		}
		r, err := c.actions.ResolveRequest(ctx, args[1], requestdomain.Status(args[2]))
		return c.report("request", args[1], string(r.Status), err)
	case "mute", "unmute":
		c.dispatcher.SetMuted(args[0] == "mute")
	case "volume":
		if len(args) != 2 {
			return errors.New("usage: volume <0..1>")
		}
		v, err := strconv.ParseFloat(args[1], 64)
		if err != nil {
			return apperr.NewValidation("volume", "not a number")
		}
		return c.dispatcher.SetVolume(v)
	case "vibrate":
		if len(args) != 2 || (args[1] != "on" && args[1] != "off") {
			return errors.New("usage: vibrate on|off")
		}
		c.dispatcher.SetVibrate(args[1] == "on")
	case "view":
		if len(args) != 2 || (args[1] != alert.ViewOrders && args[1] != alert.ViewRequests) {
			return errors.New("usage: view orders|requests")
		}
		c.dispatcher.SetView(args[1])
	case "seen":
		c.dispatcher.ClearNewOrders()
	default:
		fmt.Fprintln(c.out, usage)
	}
	return nil
}

// report 打印一次操作的结果。结果未知时打印重新读到的权威状态。
func (c *console) report(kind, id, status string, err error) error {
	switch {
	case err == nil:
		fmt.Fprintf(c.out, "%s %s is now %s\n", kind, id, status)
		return nil
	case errors.Is(err, apperr.ErrOutcomeUnknown):
		if status != "" {
			fmt.Fprintf(c.out, "%s %s: request timed out, current status is %s\n", kind, id, status)
		} else {
			fmt.Fprintf(c.out, "%s %s: request timed out, current status unknown\n", kind, id)
		}
		logger.L().Warn().Str(kind+"_id", id).Msg("⚠️ action outcome unknown")
		return nil
	}
	return err
}
