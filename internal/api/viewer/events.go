package viewer

import (
	"context"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"github.com/joeblew999/plat-gridmap/internal/humastar"
	"github.com/joeblew999/plat-gridmap/internal/service"
)

// EventHandler streams state change events to the Datastar UI via SSE.
type EventHandler struct {
	layers *LayerHandler
	view   *service.ViewState
	bus    *service.EventBus
}

// NewEventHandler creates a new event handler.
func NewEventHandler(layers *LayerHandler, view *service.ViewState, bus *service.EventBus) *EventHandler {
	return &EventHandler{layers: layers, view: view, bus: bus}
}

func (h *EventHandler) RegisterRoutes(api huma.API) {
	huma.Get(api, "/api/v1/viewer/events", h.Events,
		huma.OperationTags("viewer"),
	)
}

func (h *EventHandler) Events(ctx context.Context, input *humastar.EmptyInput) (*huma.StreamResponse, error) {
	return &huma.StreamResponse{
		Body: func(humaCtx huma.Context) {
			sse := humastar.NewSSE(humaCtx)
			ch := h.bus.Subscribe()
			defer h.bus.Unsubscribe(ch)

			for {
				select {
				case <-ctx.Done():
					return
				case ev := <-ch:
					switch ev.Resource {
					case service.ResourceLayers:
						st := h.layers.store.Get(ev.ID)
						sse.Signals(layerSignals(ev.ID, st))
						h.layers.patchLayerList(sse)
					case service.ResourceView:
						sse.Signals(viewSignals(ev.ID, h.view))
					}
					sse.DispatchCustomEvent("resource-changed", map[string]any{
						"resource": ev.Resource,
						"action":   ev.Action,
						"id":       ev.ID,
					})
				}
			}
		},
	}, nil
}

// viewSignals renders the changed view cell as a signal patch.
func viewSignals(cell string, view *service.ViewState) map[string]any {
	kind, name, _ := strings.Cut(cell, "/")
	out := map[string]any{}
	switch kind {
	case "map":
		out["map"] = view.MapView()
	case "dimensions":
		if s, ok := view.Dimensions(name); ok {
			out["dimensions"] = map[string]any{name: s}
		}
	case "toggles":
		out["toggles"] = map[string]any{name: view.Toggle(name)}
	case "numbers":
		if n, ok := view.Number(name); ok {
			out["numbers"] = map[string]any{name: n}
		}
	}
	return map[string]any{"view": out}
}
