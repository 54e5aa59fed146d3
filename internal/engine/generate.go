package engine

import (
	"context"

	"github.com/artpar/shipyard/internal/core/domain"
	"github.com/artpar/shipyard/internal/core/genfiles"
	"github.com/artpar/shipyard/internal/core/stream"
	"github.com/artpar/shipyard/internal/shell/codegen"
)

// Generate runs one code-generation round for an application. Model deltas
// are relayed as log events the moment they arrive; on completion the
// accumulated output is parsed into file blocks, committed to the
// workspace, and the done event lists the written paths. The returned
// error covers request-time failures only; everything after dispatch
// arrives on the stream.
func (e *Engine) Generate(ctx context.Context, name, instruction string) (*stream.Stream, error) {
	app, err := e.store.GetApplicationByName(ctx, name)
	if err != nil {
		return nil, err
	}
	if err := e.acquire(name); err != nil {
		return nil, err
	}

	st := stream.New(e.ctx)
	e.spawn(st, "generate", name, func(ctx context.Context) {
		defer e.release(name)
		e.runGenerate(ctx, st, app, instruction)
	})
	return st, nil
}

func (e *Engine) runGenerate(ctx context.Context, st *stream.Stream, app *domain.Application, instruction string) {
	logger := e.logger.With("app", app.Name)
	logger.Info("generation started")

	// Generation works against the latest published revision, not whatever
	// state a previous operation left in the checkout.
	if err := e.git.Sync(ctx, app.Name); err != nil {
		_ = st.Fail(err)
		return
	}
	current, err := e.git.Snapshot(ctx, app.Name)
	if err != nil {
		_ = st.Fail(err)
		return
	}

	raw, err := e.codegen.GenerateCode(ctx, codegen.Request{
		AppName:      app.Name,
		Template:     app.Template,
		Description:  instruction,
		CurrentFiles: current,
	}, func(text string) {
		_ = st.Log(text)
	})
	if err != nil {
		_ = st.Fail(err)
		return
	}

	files, err := genfiles.Extract(raw)
	if err != nil {
		_ = st.Fail(err)
		return
	}
	if err := e.git.ApplyFiles(ctx, app.Name, files); err != nil {
		_ = st.Fail(err)
		return
	}

	paths := make([]string, len(files))
	for i, f := range files {
		paths[i] = f.Path
	}
	logger.Info("generation complete", "files", len(paths))
	_ = st.Done(map[string]any{"files": paths})
}
