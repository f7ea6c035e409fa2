package viewer

import (
	"bufio"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"
	"github.com/paulmach/orb"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeblew999/plat-gridmap/internal/humastar"
	"github.com/joeblew999/plat-gridmap/internal/service"
	"github.com/joeblew999/plat-gridmap/internal/templates"
)

type fixture struct {
	mux   *http.ServeMux
	bus   *service.EventBus
	store *service.StateStore
	view  *service.ViewState
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	reg, err := service.NewRegistry([]service.LayerGroup{
		{ID: "air", Name: "Air", Layers: []service.LayerDescriptor{
			{ID: "pm25", Name: "PM2.5", Color: "red"},
		}},
	})
	require.NoError(t, err)
	loaders := service.LoaderTable{
		"pm25": {JSON: service.LoaderFunc(func(ctx context.Context, l service.LayerDescriptor) (service.Payload, error) {
			return service.Payload{JSONData: []any{}}, nil
		})},
	}
	bus := service.NewEventBus()
	store := service.NewStateStore(reg, bus)
	ctrl := service.NewController(reg, store, loaders, zerolog.New(io.Discard), nil, service.ControllerOptions{})
	renderer, err := templates.New()
	require.NoError(t, err)
	view := service.NewViewState(reg.ViewDefaults(), bus)

	mux := http.NewServeMux()
	api := humago.New(mux, huma.DefaultConfig("viewer test", "1.0.0"))
	layers := NewLayerHandler(ctrl, renderer)
	layers.RegisterRoutes(api)
	NewEventHandler(layers, view, bus).RegisterRoutes(api)
	NewViewHandler(view).RegisterRoutes(api)
	return fixture{mux: mux, bus: bus, store: store, view: view}
}

func (f fixture) do(method, path, body string) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	f.mux.ServeHTTP(rr, req)
	return rr
}

func TestListLayers(t *testing.T) {
	f := newFixture(t)

	rr := f.do(http.MethodGet, "/api/v1/viewer/layers", "")
	require.Equal(t, http.StatusOK, rr.Code)
	body := rr.Body.String()
	assert.Contains(t, body, "event: datastar-patch-elements")
	assert.Contains(t, body, "#layer-list")
	assert.Contains(t, body, `id="layer-pm25"`)
}

func TestToggleLayer_StreamsSignalsAndList(t *testing.T) {
	f := newFixture(t)

	rr := f.do(http.MethodPost, "/api/v1/viewer/layers/pm25/toggle", "")
	require.Equal(t, http.StatusOK, rr.Code)
	body := rr.Body.String()
	assert.Contains(t, body, "event: datastar-patch-signals")
	assert.Contains(t, body, `"isLoaded":true`)
	assert.Contains(t, body, "Layer 'pm25' shown")
	assert.True(t, f.store.Get("pm25").Visible)
}

func TestToggleLayer_NotFound(t *testing.T) {
	f := newFixture(t)

	rr := f.do(http.MethodPost, "/api/v1/viewer/layers/nope/toggle", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestEvents_StreamsStateChangesUntilDisconnect(t *testing.T) {
	f := newFixture(t)
	srv := httptest.NewServer(f.mux)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/v1/viewer/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/event-stream")
	require.Eventually(t, func() bool { return f.bus.Subscribers() == 1 }, 2*time.Second, 5*time.Millisecond)

	lines := make(chan string, 256)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(resp.Body)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()
	waitFor := func(substr string) {
		t.Helper()
		timeout := time.After(5 * time.Second)
		for {
			select {
			case line, ok := <-lines:
				require.True(t, ok, "stream ended before %q", substr)
				if strings.Contains(line, substr) {
					return
				}
			case <-timeout:
				t.Fatalf("stream never carried %q", substr)
			}
		}
	}

	toggle, err := http.Post(srv.URL+"/api/v1/viewer/layers/pm25/toggle", "application/json", nil)
	require.NoError(t, err)
	_, _ = io.Copy(io.Discard, toggle.Body)
	toggle.Body.Close()

	waitFor(`"layers":{"pm25":{"isLoaded":true,"isLoading":false,"visible":true}}`)
	waitFor(`id="layer-pm25"`)

	require.NoError(t, f.view.SetNumber("threshold", 5))
	waitFor(`{"view":{"numbers":{"threshold":5}}}`)

	cancel()
	for range lines {
	}
	assert.Eventually(t, func() bool { return f.bus.Subscribers() == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestUpdateView(t *testing.T) {
	f := newFixture(t)

	rr := f.do(http.MethodPost, "/api/v1/viewer/view", `{"showGrid":true,"exponent":3,"unrelated":"x"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "View updated")
	assert.True(t, f.view.Toggle("showGrid"))
	n, _ := f.view.Number("exponent")
	assert.Equal(t, 3.0, n)

	rr = f.do(http.MethodPost, "/api/v1/viewer/view", `{broken`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestApplySignals(t *testing.T) {
	view := service.NewViewState(service.ViewDefaults{}, nil)

	changed, err := applySignals(view, humastar.Signals{"showLegend": false, "threshold": 4.0})
	require.NoError(t, err)
	assert.Equal(t, []string{"toggles/showLegend", "numbers/threshold"}, changed)
	assert.False(t, view.Toggle("showLegend"))

	changed, err = applySignals(view, humastar.Signals{})
	require.NoError(t, err)
	assert.Empty(t, changed)
}

func TestViewSignals(t *testing.T) {
	view := service.NewViewState(service.ViewDefaults{}, nil)
	require.NoError(t, view.SetMapView(orb.Point{1, 2}, 3))

	assert.Equal(t, map[string]any{"view": map[string]any{
		"map": service.MapView{Center: orb.Point{1, 2}, Zoom: 3},
	}}, viewSignals("map", view))

	assert.Equal(t, map[string]any{"view": map[string]any{
		"toggles": map[string]any{"showLegend": true},
	}}, viewSignals("toggles/showLegend", view))

	assert.Equal(t, map[string]any{"view": map[string]any{}}, viewSignals("numbers/missing", view))
}

func TestLayerSignals(t *testing.T) {
	got := layerSignals("pm25", service.LayerState{Visible: true, Loading: true})
	assert.Equal(t, map[string]any{"layers": map[string]any{
		"pm25": map[string]any{"visible": true, "isLoading": true, "isLoaded": false},
	}}, got)
}
