package discovery

import (
	"context"
	"time"

	hterrors "headtrack-x/errors"
	"headtrack-x/wire"
)

// ResolveRetry 是一次性查找期间重复广播的间隔。
const ResolveRetry = time.Second

// Resolve 在 listenPort 上监听应答，同时周期广播，返回第一个合法应答对应的目标。
// 超时由 ctx 控制。
func Resolve(ctx context.Context, a *Announcer, listenPort uint16) (wire.Endpoint, error) {
	found := make(chan wire.Endpoint, 1)
	l := NewListener(a.Codec)
	l.Metrics = a.Metrics
	err := l.Start(listenPort, func(r wire.DiscoveryResponse) {
		select {
		case found <- r.Endpoint():
		default:
		}
	})
	if err != nil {
		return wire.Endpoint{}, err
	}
	defer l.Stop()

	t := time.NewTicker(ResolveRetry)
	defer t.Stop()
	for {
		_ = a.Announce(ctx)
		select {
		case ep := <-found:
			return ep, nil
		case <-ctx.Done():
			return wire.Endpoint{}, hterrors.Wrap(hterrors.CodeInvalidConfig, "no receiver answered discovery", ctx.Err())
		case <-t.C:
		}
	}
}
