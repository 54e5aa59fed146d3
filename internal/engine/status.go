package engine

import (
	"context"

	"github.com/artpar/shipyard/internal/core/domain"
	"github.com/artpar/shipyard/internal/shell/kube"
	"github.com/artpar/shipyard/internal/shell/store"
)

// =============================================================================
// Per-Application Status
// =============================================================================

// EnvStatus joins one environment's live pod state with its public URL.
type EnvStatus struct {
	kube.PodStatus
	URL string `json:"url"`
}

// StatusReport merges the registry's view of an application with the live
// pod state of both environments.
type StatusReport struct {
	Preview        EnvStatus `json:"preview"`
	Prod           EnvStatus `json:"prod"`
	PreviewVersion *string   `json:"preview_version"`
	ProdVersion    *string   `json:"prod_version"`
}

// Status reports registry and live state for one application. Pod queries
// degrade to unknown phases rather than failing the whole report.
func (e *Engine) Status(ctx context.Context, name string) (*StatusReport, error) {
	app, err := e.store.GetApplicationByName(ctx, name)
	if err != nil {
		return nil, err
	}
	return &StatusReport{
		Preview: EnvStatus{
			PodStatus: e.kube.PodStatus(ctx, name, domain.EnvPreview),
			URL:       app.PreviewURL,
		},
		Prod: EnvStatus{
			PodStatus: e.kube.PodStatus(ctx, name, domain.EnvProd),
			URL:       app.ProdURL,
		},
		PreviewVersion: app.PreviewVersion,
		ProdVersion:    app.ProdVersion,
	}, nil
}

// =============================================================================
// All-Applications Status
// =============================================================================

// ClusterApp is one application's row in the all-apps live view.
type ClusterApp struct {
	Name    string         `json:"name"`
	Status  domain.Status  `json:"status"`
	Preview kube.PodStatus `json:"preview"`
	Prod    kube.PodStatus `json:"prod"`
}

// AllStatuses joins every registry entry with live pod state from the
// cluster. A cluster query failure degrades to unknown phases; the
// registry decides which applications exist.
func (e *Engine) AllStatuses(ctx context.Context) ([]ClusterApp, error) {
	apps, err := e.store.ListApplications(ctx, store.DefaultListOptions())
	if err != nil {
		return nil, err
	}

	live, err := e.kube.AllAppStatuses(ctx)
	if err != nil {
		e.logger.Warn("live cluster status unavailable", "error", err)
		live = nil
	}

	out := make([]ClusterApp, 0, len(apps))
	for i := range apps {
		a := &apps[i]
		st, ok := live[a.Name]
		if !ok {
			st = kube.AppStatus{
				Preview: kube.PodStatus{Phase: kube.PhaseUnknown},
				Prod:    kube.PodStatus{Phase: kube.PhaseUnknown},
			}
		}
		out = append(out, ClusterApp{
			Name:    a.Name,
			Status:  a.Status,
			Preview: st.Preview,
			Prod:    st.Prod,
		})
	}
	return out, nil
}
