package syncer

import (
	"context"

	"github.com/Bigbrotr/bigbrotr/internal/dispatch"
	"github.com/Bigbrotr/bigbrotr/internal/nostr"
	"github.com/Bigbrotr/bigbrotr/internal/relay"
	"github.com/Bigbrotr/bigbrotr/internal/window"
)

// runTask opens a session to one relay and traverses its window. The
// endpoint's total deadline bounds the whole task; the window stack lives
// and dies inside this call.
func (e *Engine) runTask(ctx context.Context, t dispatch.Task) dispatch.Result {
	route, err := relay.Resolve(t.Endpoint, e.cfg)
	if err != nil {
		return dispatch.Result{Task: t, Err: err}
	}
	taskCtx, cancel := context.WithTimeout(ctx, route.Tier.Total)
	defer cancel()

	sess, err := e.dialer.Open(taskCtx, t.Endpoint)
	if err != nil {
		return dispatch.Result{Task: t, Err: err}
	}
	defer sess.Close()

	sched := &window.Scheduler{
		Base: nostr.Filter{
			Kinds:   e.cfg.Filter.Kinds,
			Authors: e.cfg.Filter.Authors,
			Tags:    e.cfg.Filter.Tags,
		},
		Limit:    e.cfg.RequestLimit,
		MinWidth: e.cfg.MinWindowSeconds,
		Logger:   e.logger,
	}
	res, err := sched.Run(taskCtx, sess, t.Since, t.Until)
	if err != nil {
		return dispatch.Result{Task: t, Err: err}
	}
	return dispatch.Result{
		Task:      t,
		Events:    res.Events,
		Truncated: res.Truncated,
		Fetches:   res.Fetches,
	}
}
