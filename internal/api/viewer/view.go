package viewer

import (
	"context"
	"sort"

	"github.com/danielgtaylor/huma/v2"

	"github.com/joeblew999/plat-gridmap/internal/humastar"
	"github.com/joeblew999/plat-gridmap/internal/service"
)

// ViewHandler applies view-state edits posted as Datastar signals.
type ViewHandler struct {
	humastar.Handler
	view *service.ViewState
}

// NewViewHandler creates a viewer view-state handler.
func NewViewHandler(view *service.ViewState) *ViewHandler {
	return &ViewHandler{view: view}
}

func (h *ViewHandler) RegisterRoutes(api huma.API) {
	huma.Post(api, "/api/v1/viewer/view", h.UpdateView, huma.OperationTags("viewer"))
}

// UpdateView writes every known toggle and number present in the signals.
// Unknown signals are ignored.
func (h *ViewHandler) UpdateView(ctx context.Context, input *humastar.SignalsInput) (*huma.StreamResponse, error) {
	signals, err := input.MustParse()
	if err != nil {
		return nil, err
	}
	return h.Stream(func(sse humastar.SSE) {
		changed, err := applySignals(h.view, signals)
		if err != nil {
			sse.Error(err.Error())
			return
		}
		if len(changed) > 0 {
			sse.Success("View updated")
		}
	}), nil
}

// applySignals writes matching signals into view and returns the cells it set.
func applySignals(view *service.ViewState, signals humastar.Signals) ([]string, error) {
	snap := view.Snapshot()
	var changed []string
	for _, name := range sortedKeys(snap.Toggles) {
		if !signals.Has(name) {
			continue
		}
		if err := view.SetToggle(name, signals.Bool(name)); err != nil {
			return changed, err
		}
		changed = append(changed, "toggles/"+name)
	}
	for _, name := range sortedKeys(snap.Numbers) {
		if !signals.Has(name) {
			continue
		}
		if err := view.SetNumber(name, signals.Float(name)); err != nil {
			return changed, err
		}
		changed = append(changed, "numbers/"+name)
	}
	return changed, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
