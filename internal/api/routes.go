// Package api defines the Huma API routes and handlers.
package api

import (
	"context"
	"errors"

	"github.com/danielgtaylor/huma/v2"

	"github.com/joeblew999/plat-gridmap/internal/humastar"
	"github.com/joeblew999/plat-gridmap/internal/service"
)

// Services holds the service dependencies for API handlers.
type Services struct {
	Registry   *service.Registry
	Store      *service.StateStore
	Controller *service.Controller
	View       *service.ViewState
}

// Types

type IDInput struct {
	ID string `path:"id" doc:"Layer ID" example:"pm25"`
}

type PageInput struct {
	Offset int `query:"offset" minimum:"0" default:"0" doc:"Items to skip"`
	Limit  int `query:"limit" minimum:"1" maximum:"500" default:"50" doc:"Page size"`
}

type SlotInput struct {
	IDInput
	Slot string `path:"slot" enum:"jsonData,processedJsonData,geojsonData,gridData,gridDataHigh,gridDataLow,drawData,dataTableData,dashboardData,layerInfoData" doc:"Payload slot"`
}

// LayerSummary is a layer with its state flags but without payloads.
type LayerSummary struct {
	ID      string `json:"id" doc:"Layer ID"`
	Name    string `json:"name" doc:"Display name"`
	Group   string `json:"group" doc:"Group ID"`
	Color   string `json:"color,omitempty" doc:"Color tag"`
	Visible bool   `json:"visible" doc:"Currently visible"`
	Loading bool   `json:"isLoading" doc:"Load in flight"`
	Loaded  bool   `json:"isLoaded" doc:"Payload loaded"`
}

// GroupSummary is a group and its layer ids.
type GroupSummary struct {
	ID     string   `json:"id" doc:"Group ID"`
	Name   string   `json:"name" doc:"Group name"`
	Layers []string `json:"layers" doc:"Layer IDs in display order"`
}

type LayerStateBody struct {
	ID      string `json:"id" doc:"Layer ID"`
	Visible bool   `json:"visible"`
	Loading bool   `json:"isLoading"`
	Loaded  bool   `json:"isLoaded"`
}

type HealthBody struct {
	Status  string `json:"status" doc:"Health status" example:"ok"`
	Version string `json:"version" doc:"API version" example:"1.0.0"`
}

// APIHandler holds the layer REST handlers. Methods named Register* are
// auto-discovered by huma.AutoRegister.
type APIHandler struct {
	svc *Services
}

func NewAPIHandler(svc *Services) *APIHandler {
	return &APIHandler{svc: svc}
}

// RegisterRoutes registers every REST route.
func RegisterRoutes(api huma.API, svc *Services) {
	huma.AutoRegister(api, NewAPIHandler(svc))
	huma.AutoRegister(api, NewViewHandler(svc.View))
}

// RegisterHealth registers health check routes.
func (h *APIHandler) RegisterHealth(api huma.API) {
	huma.Get(api, "/health", h.GetHealth, huma.OperationTags("health"))
}

// RegisterLayers registers layer routes.
func (h *APIHandler) RegisterLayers(api huma.API) {
	huma.Get(api, "/api/v1/groups", h.GetGroups, huma.OperationTags("layers"))
	huma.Get(api, "/api/v1/layers", h.GetLayers, huma.OperationTags("layers"))
	huma.Get(api, "/api/v1/layers/visible", h.GetVisibleLayers, huma.OperationTags("layers"))
	huma.Get(api, "/api/v1/layers/loading", h.GetLoadingLayers, huma.OperationTags("layers"))
	huma.Get(api, "/api/v1/layers/{id}", h.GetLayer, huma.OperationTags("layers"))
	huma.Get(api, "/api/v1/layers/{id}/data/{slot}", h.GetLayerData, huma.OperationTags("layers"))
	huma.Post(api, "/api/v1/layers/{id}/toggle", h.ToggleLayer, huma.OperationTags("layers"))
	huma.Post(api, "/api/v1/layers/{id}/reload", h.ReloadLayer, huma.OperationTags("layers"))
}

// Handlers

func (h *APIHandler) GetHealth(ctx context.Context, input *struct{}) (*struct{ Body HealthBody }, error) {
	return &struct{ Body HealthBody }{Body: HealthBody{Status: "ok", Version: "1.0.0"}}, nil
}

func (h *APIHandler) GetGroups(ctx context.Context, input *struct{}) (*struct{ Body []GroupSummary }, error) {
	groups := h.svc.Registry.Groups()
	out := make([]GroupSummary, 0, len(groups))
	for _, g := range groups {
		ids := make([]string, 0, len(g.Layers))
		for _, l := range g.Layers {
			ids = append(ids, l.ID)
		}
		out = append(out, GroupSummary{ID: g.ID, Name: g.Name, Layers: ids})
	}
	return &struct{ Body []GroupSummary }{Body: out}, nil
}

func (h *APIHandler) GetLayers(ctx context.Context, input *PageInput) (*struct {
	Body humastar.PageBody[LayerSummary]
}, error) {
	page := humastar.Paginate(summaries(h.svc.Store.Views()), input.Offset, input.Limit)
	return &struct {
		Body humastar.PageBody[LayerSummary]
	}{Body: page}, nil
}

func (h *APIHandler) GetVisibleLayers(ctx context.Context, input *struct{}) (*struct{ Body []LayerSummary }, error) {
	return &struct{ Body []LayerSummary }{Body: summaries(h.svc.Store.VisibleLayers())}, nil
}

func (h *APIHandler) GetLoadingLayers(ctx context.Context, input *struct{}) (*struct{ Body []LayerSummary }, error) {
	return &struct{ Body []LayerSummary }{Body: summaries(h.svc.Store.LoadingLayers())}, nil
}

func (h *APIHandler) GetLayer(ctx context.Context, input *IDInput) (*struct{ Body service.LayerView }, error) {
	view, ok := h.svc.Store.View(input.ID)
	if !ok {
		return nil, huma.Error404NotFound("layer not found")
	}
	return &struct{ Body service.LayerView }{Body: view}, nil
}

func (h *APIHandler) GetLayerData(ctx context.Context, input *SlotInput) (*struct{ Body any }, error) {
	view, ok := h.svc.Store.View(input.ID)
	if !ok {
		return nil, huma.Error404NotFound("layer not found")
	}
	data, err := view.State.Payload.Slot(input.Slot)
	if err != nil {
		return nil, huma.Error404NotFound(err.Error())
	}
	if data == nil {
		return nil, huma.Error404NotFound("slot is empty")
	}
	return &struct{ Body any }{Body: data}, nil
}

func (h *APIHandler) ToggleLayer(ctx context.Context, input *IDInput) (*struct{ Body LayerStateBody }, error) {
	st, err := h.svc.Controller.Toggle(ctx, input.ID)
	if err != nil {
		return nil, toHTTPError(err)
	}
	return &struct{ Body LayerStateBody }{Body: stateBody(input.ID, st)}, nil
}

func (h *APIHandler) ReloadLayer(ctx context.Context, input *IDInput) (*struct{ Body LayerStateBody }, error) {
	st, err := h.svc.Controller.Reload(ctx, input.ID)
	if err != nil {
		return nil, toHTTPError(err)
	}
	return &struct{ Body LayerStateBody }{Body: stateBody(input.ID, st)}, nil
}

func summaries(views []service.LayerView) []LayerSummary {
	out := make([]LayerSummary, 0, len(views))
	for _, v := range views {
		out = append(out, LayerSummary{
			ID:      v.ID,
			Name:    v.Name,
			Group:   v.Group,
			Color:   v.Color,
			Visible: v.State.Visible,
			Loading: v.State.Loading,
			Loaded:  v.State.Loaded,
		})
	}
	return out
}

func stateBody(id string, st service.LayerState) LayerStateBody {
	return LayerStateBody{ID: id, Visible: st.Visible, Loading: st.Loading, Loaded: st.Loaded}
}

func toHTTPError(err error) error {
	switch {
	case errors.Is(err, service.ErrLayerNotFound):
		return huma.Error404NotFound(err.Error())
	case errors.Is(err, service.ErrInvalidViewState):
		return huma.Error422UnprocessableEntity(err.Error())
	}
	return huma.Error500InternalServerError("internal error", err)
}
