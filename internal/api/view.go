package api

import (
	"context"

	"github.com/danielgtaylor/huma/v2"

	"github.com/joeblew999/plat-gridmap/internal/service"
)

// ViewHandler exposes the view-state cells.
type ViewHandler struct {
	view *service.ViewState
}

func NewViewHandler(view *service.ViewState) *ViewHandler {
	return &ViewHandler{view: view}
}

type NameInput struct {
	Name string `path:"name" minLength:"1" maxLength:"64" doc:"Cell name" example:"map"`
}

type ToggleBody struct {
	Name string `json:"name,omitempty"`
	On   bool   `json:"on" doc:"Toggle value"`
}

type NumberBody struct {
	Name  string  `json:"name,omitempty"`
	Value float64 `json:"value" doc:"Numeric value"`
}

type DimensionsBody struct {
	Name string `json:"name,omitempty"`
	service.Size
}

// RegisterView registers view-state routes.
func (h *ViewHandler) RegisterView(api huma.API) {
	huma.Get(api, "/api/v1/view", h.GetView, huma.OperationTags("view"))
	huma.Get(api, "/api/v1/view/map", h.GetMap, huma.OperationTags("view"))
	huma.Put(api, "/api/v1/view/map", h.PutMap, huma.OperationTags("view"))
	huma.Get(api, "/api/v1/view/dimensions/{name}", h.GetDimensions, huma.OperationTags("view"))
	huma.Put(api, "/api/v1/view/dimensions/{name}", h.PutDimensions, huma.OperationTags("view"))
	huma.Get(api, "/api/v1/view/toggles/{name}", h.GetToggle, huma.OperationTags("view"))
	huma.Put(api, "/api/v1/view/toggles/{name}", h.PutToggle, huma.OperationTags("view"))
	huma.Post(api, "/api/v1/view/toggles/{name}/flip", h.FlipToggle, huma.OperationTags("view"))
	huma.Get(api, "/api/v1/view/numbers/{name}", h.GetNumber, huma.OperationTags("view"))
	huma.Put(api, "/api/v1/view/numbers/{name}", h.PutNumber, huma.OperationTags("view"))
}

func (h *ViewHandler) GetView(ctx context.Context, input *struct{}) (*struct{ Body service.ViewSnapshot }, error) {
	return &struct{ Body service.ViewSnapshot }{Body: h.view.Snapshot()}, nil
}

func (h *ViewHandler) GetMap(ctx context.Context, input *struct{}) (*struct{ Body service.MapView }, error) {
	return &struct{ Body service.MapView }{Body: h.view.MapView()}, nil
}

func (h *ViewHandler) PutMap(ctx context.Context, input *struct{ Body service.MapView }) (*struct{ Body service.MapView }, error) {
	if err := h.view.SetMapView(input.Body.Center, input.Body.Zoom); err != nil {
		return nil, toHTTPError(err)
	}
	return &struct{ Body service.MapView }{Body: h.view.MapView()}, nil
}

func (h *ViewHandler) GetDimensions(ctx context.Context, input *NameInput) (*struct{ Body DimensionsBody }, error) {
	size, ok := h.view.Dimensions(input.Name)
	if !ok {
		return nil, huma.Error404NotFound("dimensions not found")
	}
	return &struct{ Body DimensionsBody }{Body: DimensionsBody{Name: input.Name, Size: size}}, nil
}

func (h *ViewHandler) PutDimensions(ctx context.Context, input *struct {
	NameInput
	Body service.Size
}) (*struct{ Body DimensionsBody }, error) {
	if err := h.view.SetDimensions(input.Name, input.Body); err != nil {
		return nil, toHTTPError(err)
	}
	return &struct{ Body DimensionsBody }{Body: DimensionsBody{Name: input.Name, Size: input.Body}}, nil
}

func (h *ViewHandler) GetToggle(ctx context.Context, input *NameInput) (*struct{ Body ToggleBody }, error) {
	return &struct{ Body ToggleBody }{Body: ToggleBody{Name: input.Name, On: h.view.Toggle(input.Name)}}, nil
}

func (h *ViewHandler) PutToggle(ctx context.Context, input *struct {
	NameInput
	Body ToggleBody
}) (*struct{ Body ToggleBody }, error) {
	if err := h.view.SetToggle(input.Name, input.Body.On); err != nil {
		return nil, toHTTPError(err)
	}
	return &struct{ Body ToggleBody }{Body: ToggleBody{Name: input.Name, On: input.Body.On}}, nil
}

func (h *ViewHandler) FlipToggle(ctx context.Context, input *NameInput) (*struct{ Body ToggleBody }, error) {
	on, err := h.view.FlipToggle(input.Name)
	if err != nil {
		return nil, toHTTPError(err)
	}
	return &struct{ Body ToggleBody }{Body: ToggleBody{Name: input.Name, On: on}}, nil
}

func (h *ViewHandler) GetNumber(ctx context.Context, input *NameInput) (*struct{ Body NumberBody }, error) {
	v, ok := h.view.Number(input.Name)
	if !ok {
		return nil, huma.Error404NotFound("number not found")
	}
	return &struct{ Body NumberBody }{Body: NumberBody{Name: input.Name, Value: v}}, nil
}

func (h *ViewHandler) PutNumber(ctx context.Context, input *struct {
	NameInput
	Body NumberBody
}) (*struct{ Body NumberBody }, error) {
	if err := h.view.SetNumber(input.Name, input.Body.Value); err != nil {
		return nil, toHTTPError(err)
	}
	return &struct{ Body NumberBody }{Body: NumberBody{Name: input.Name, Value: input.Body.Value}}, nil
}
