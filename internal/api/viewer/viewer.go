// Package viewer contains Datastar SSE handlers for the map viewer UI.
package viewer

import (
	"context"
	"errors"
	"fmt"

	"github.com/danielgtaylor/huma/v2"

	"github.com/joeblew999/plat-gridmap/internal/humastar"
	"github.com/joeblew999/plat-gridmap/internal/service"
	"github.com/joeblew999/plat-gridmap/internal/templates"
)

// LayerHandler streams the layer list and runs toggle/reload actions.
type LayerHandler struct {
	humastar.Handler
	controller *service.Controller
	store      *service.StateStore
	registry   *service.Registry
}

// NewLayerHandler creates a viewer layer handler.
func NewLayerHandler(controller *service.Controller, renderer *templates.Renderer) *LayerHandler {
	return &LayerHandler{
		Handler:    humastar.Handler{Renderer: renderer},
		controller: controller,
		store:      controller.Store(),
		registry:   controller.Registry(),
	}
}

func (h *LayerHandler) RegisterRoutes(api huma.API) {
	huma.Get(api, "/api/v1/viewer/layers", h.ListLayers, huma.OperationTags("viewer"))
	huma.Post(api, "/api/v1/viewer/layers/{id}/toggle", h.ToggleLayer, huma.OperationTags("viewer"))
	huma.Post(api, "/api/v1/viewer/layers/{id}/reload", h.ReloadLayer, huma.OperationTags("viewer"))
}

type LayerActionInput struct {
	ID string `path:"id" doc:"Layer ID"`
}

func (h *LayerHandler) ListLayers(ctx context.Context, input *humastar.EmptyInput) (*huma.StreamResponse, error) {
	return h.Stream(func(sse humastar.SSE) {
		h.patchLayerList(sse)
	}), nil
}

func (h *LayerHandler) ToggleLayer(ctx context.Context, input *LayerActionInput) (*huma.StreamResponse, error) {
	if _, ok := h.registry.Find(input.ID); !ok {
		return nil, huma.Error404NotFound("layer not found")
	}
	return h.Stream(func(sse humastar.SSE) {
		st, err := h.controller.Toggle(ctx, input.ID)
		h.respond(sse, input.ID, st, err)
	}), nil
}

func (h *LayerHandler) ReloadLayer(ctx context.Context, input *LayerActionInput) (*huma.StreamResponse, error) {
	if _, ok := h.registry.Find(input.ID); !ok {
		return nil, huma.Error404NotFound("layer not found")
	}
	return h.Stream(func(sse humastar.SSE) {
		st, err := h.controller.Reload(ctx, input.ID)
		h.respond(sse, input.ID, st, err)
	}), nil
}

func (h *LayerHandler) respond(sse humastar.SSE, id string, st service.LayerState, err error) {
	if err != nil {
		if errors.Is(err, service.ErrLayerNotFound) {
			sse.Error("Layer not found")
		} else {
			sse.Error(err.Error())
		}
		return
	}
	sse.Signals(layerSignals(id, st))
	if !h.patchLayerList(sse) {
		return
	}
	switch {
	case st.Loaded && st.Visible:
		sse.Success(fmt.Sprintf("Layer '%s' shown", id))
	case !st.Visible:
		sse.Success(fmt.Sprintf("Layer '%s' hidden", id))
	}
}

// LayerCardData feeds the layer-card template.
type LayerCardData struct {
	ID      string
	Name    string
	Group   string
	Color   string
	Visible bool
	Loading bool
	Loaded  bool
}

// GroupData feeds the layer-group template.
type GroupData struct {
	ID     string
	Name   string
	Layers []LayerCardData
}

// patchLayerList re-renders #layer-list, or reports the render error.
func (h *LayerHandler) patchLayerList(sse humastar.SSE) bool {
	html, err := h.renderLayerList()
	if err != nil {
		sse.Error(err.Error())
		return false
	}
	sse.Patch(html, "#layer-list")
	return true
}

func (h *LayerHandler) renderLayerList() (string, error) {
	views := h.store.Views()
	byID := make(map[string]service.LayerView, len(views))
	for _, v := range views {
		byID[v.ID] = v
	}

	var items []any
	for _, g := range h.registry.Groups() {
		gd := GroupData{ID: g.ID, Name: g.Name}
		for _, l := range g.Layers {
			v := byID[l.ID]
			gd.Layers = append(gd.Layers, LayerCardData{
				ID: l.ID, Name: l.Name, Group: g.ID, Color: l.Color,
				Visible: v.State.Visible, Loading: v.State.Loading, Loaded: v.State.Loaded,
			})
		}
		items = append(items, gd)
	}
	return h.RenderList("layer-group", items, "No layers configured", "Add layers to the registry file")
}

// layerSignals is the Datastar signal patch describing one layer's flags.
func layerSignals(id string, st service.LayerState) map[string]any {
	return map[string]any{
		"layers": map[string]any{
			id: map[string]any{
				"visible":   st.Visible,
				"isLoading": st.Loading,
				"isLoaded":  st.Loaded,
			},
		},
	}
}
