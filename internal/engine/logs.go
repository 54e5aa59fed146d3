package engine

import (
	"context"
	"time"

	"github.com/artpar/shipyard/internal/core/domain"
	"github.com/artpar/shipyard/internal/core/stream"
)

// Logs tails pod logs for one environment. The stream ends with a done
// event when the tail itself ends or the pod produces nothing for the
// idle window. A tail does not hold the per-app operation slot, so it can
// run alongside a build.
func (e *Engine) Logs(ctx context.Context, name string, env domain.Environment) (*stream.Stream, error) {
	if _, err := e.store.GetApplicationByName(ctx, name); err != nil {
		return nil, err
	}

	st := stream.New(e.ctx)
	e.spawn(st, "logs", name, func(ctx context.Context) {
		e.runLogTail(ctx, st, name, env)
	})
	return st, nil
}

func (e *Engine) runLogTail(ctx context.Context, st *stream.Stream, name string, env domain.Environment) {
	lines, err := e.kube.StreamLogs(ctx, name, env)
	if err != nil {
		_ = st.Fail(err)
		return
	}

	idle := time.NewTimer(e.config.LogIdleTimeout)
	defer idle.Stop()

	for {
		select {
		case line, open := <-lines:
			if !open {
				_ = st.Done(map[string]any{"reason": "log stream ended"})
				return
			}
			if err := st.Log(line); err != nil {
				return
			}
			if !idle.Stop() {
				<-idle.C
			}
			idle.Reset(e.config.LogIdleTimeout)
		case <-idle.C:
			_ = st.Done(map[string]any{"reason": "idle timeout"})
			return
		case <-ctx.Done():
			return
		}
	}
}
