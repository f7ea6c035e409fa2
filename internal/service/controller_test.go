package service

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeblew999/plat-gridmap/internal/metrics"
)

func testRegistry(t *testing.T, layers ...LayerDescriptor) *Registry {
	t.Helper()
	reg, err := NewRegistry([]LayerGroup{{ID: "test", Name: "Test", Layers: layers}})
	require.NoError(t, err)
	return reg
}

func newTestController(t *testing.T, reg *Registry, loaders LoaderTable, opts ControllerOptions) (*Controller, *StateStore, *bytes.Buffer) {
	t.Helper()
	var logs bytes.Buffer
	store := NewStateStore(reg, NewEventBus())
	c := NewController(reg, store, loaders, zerolog.New(&logs), metrics.New(), opts)
	return c, store, &logs
}

func TestToggle_LoadsOnFirstShow(t *testing.T) {
	reg := testRegistry(t, LayerDescriptor{ID: "test_layer", Name: "Test layer"})
	var calls atomic.Int32
	loaders := LoaderTable{"test_layer": {JSON: LoaderFunc(func(ctx context.Context, l LayerDescriptor) (Payload, error) {
		calls.Add(1)
		return Payload{JSONData: map[string]any{"a": 1}}, nil
	})}}
	c, store, _ := newTestController(t, reg, loaders, ControllerOptions{})

	st, err := c.Toggle(context.Background(), "test_layer")
	require.NoError(t, err)
	assert.True(t, st.Visible)
	assert.False(t, st.Loading)
	assert.True(t, st.Loaded)
	assert.Equal(t, map[string]any{"a": 1}, st.Payload.JSONData)

	st, err = c.Toggle(context.Background(), "test_layer")
	require.NoError(t, err)
	assert.False(t, st.Visible)
	assert.True(t, st.Loaded)
	assert.Equal(t, map[string]any{"a": 1}, st.Payload.JSONData)

	// Showing again reuses the cached payload.
	_, err = c.Toggle(context.Background(), "test_layer")
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load())
	assert.True(t, store.Get("test_layer").Visible)
}

func TestToggle_PopulatesEverySlot(t *testing.T) {
	reg := testRegistry(t, LayerDescriptor{ID: "full"})
	want := Payload{
		JSONData:          "raw",
		ProcessedJSONData: "processed",
		GeoJSONData:       "geo",
		GridData:          "grid",
		GridDataHigh:      "high",
		GridDataLow:       "low",
		DataTableData:     "table",
		DashboardData:     "dash",
		LayerInfoData:     "info",
	}
	loaders := LoaderTable{"full": {JSON: LoaderFunc(func(context.Context, LayerDescriptor) (Payload, error) {
		return want, nil
	})}}
	c, _, _ := newTestController(t, reg, loaders, ControllerOptions{})

	st, err := c.Toggle(context.Background(), "full")
	require.NoError(t, err)
	assert.Equal(t, want, st.Payload)
}

func TestToggle_WithoutLoaderNeverLoads(t *testing.T) {
	reg := testRegistry(t, LayerDescriptor{ID: "plain", Visible: true})
	c, store, _ := newTestController(t, reg, LoaderTable{}, ControllerOptions{})

	st, err := c.Toggle(context.Background(), "plain")
	require.NoError(t, err)
	assert.False(t, st.Visible)
	assert.False(t, st.Loading)
	assert.False(t, st.Loaded)

	st, err = c.Toggle(context.Background(), "plain")
	require.NoError(t, err)
	assert.True(t, st.Visible)
	assert.False(t, st.Loading)
	assert.False(t, st.Loaded)
	assert.Equal(t, st, store.Get("plain"))
}

func TestToggle_FailedLoadHidesLayer(t *testing.T) {
	reg := testRegistry(t, LayerDescriptor{ID: "broken", Name: "Broken layer"})
	loaders := LoaderTable{"broken": {GeoJSON: LoaderFunc(func(context.Context, LayerDescriptor) (Payload, error) {
		return Payload{}, errors.New("boom")
	})}}
	c, _, logs := newTestController(t, reg, loaders, ControllerOptions{})

	st, err := c.Toggle(context.Background(), "broken")
	require.NoError(t, err)
	assert.False(t, st.Visible)
	assert.False(t, st.Loading)
	assert.False(t, st.Loaded)
	assert.Contains(t, logs.String(), "boom")
	assert.Contains(t, logs.String(), "Broken layer")
}

func TestToggle_JSONLoaderWinsOverGeoJSON(t *testing.T) {
	reg := testRegistry(t, LayerDescriptor{ID: "both"})
	loaders := LoaderTable{"both": {
		JSON: LoaderFunc(func(context.Context, LayerDescriptor) (Payload, error) {
			return Payload{JSONData: "json"}, nil
		}),
		GeoJSON: LoaderFunc(func(context.Context, LayerDescriptor) (Payload, error) {
			t.Fatal("geojson loader must not run when a json loader exists")
			return Payload{}, nil
		}),
	}}
	c, _, _ := newTestController(t, reg, loaders, ControllerOptions{})

	st, err := c.Toggle(context.Background(), "both")
	require.NoError(t, err)
	assert.Equal(t, "json", st.Payload.JSONData)
}

func TestToggle_UnknownLayer(t *testing.T) {
	reg := testRegistry(t, LayerDescriptor{ID: "known"})
	c, store, logs := newTestController(t, reg, LoaderTable{}, ControllerOptions{})
	before := store.Views()

	_, err := c.Toggle(context.Background(), "missing")
	require.ErrorIs(t, err, ErrLayerNotFound)
	assert.Contains(t, logs.String(), "layer not found")

	after := store.Views()
	require.Len(t, after, 1)
	assert.Equal(t, before[0].State.Visible, after[0].State.Visible)
	assert.True(t, after[0].State.UpdatedAt.IsZero())
}

func TestToggle_TransformDerivesDrawData(t *testing.T) {
	reg := testRegistry(t, LayerDescriptor{ID: "pts"})
	loaders := LoaderTable{"pts": {
		JSON: LoaderFunc(func(context.Context, LayerDescriptor) (Payload, error) {
			return Payload{ProcessedJSONData: []map[string]any{{"lon": 1.0, "lat": 2.0, "v": 3.0}}}, nil
		}),
		Transform: PointsTransform{LonField: "lon", LatField: "lat"},
	}}
	c, _, _ := newTestController(t, reg, loaders, ControllerOptions{})

	st, err := c.Toggle(context.Background(), "pts")
	require.NoError(t, err)
	require.NotNil(t, st.Payload.DrawData)
	assert.True(t, st.Loaded)
}

func TestToggle_TransformFailureIsALoadFailure(t *testing.T) {
	reg := testRegistry(t, LayerDescriptor{ID: "bad"})
	loaders := LoaderTable{"bad": {
		JSON: LoaderFunc(func(context.Context, LayerDescriptor) (Payload, error) {
			return Payload{ProcessedJSONData: "not records"}, nil
		}),
		Transform: PointsTransform{LonField: "lon", LatField: "lat"},
	}}
	c, _, _ := newTestController(t, reg, loaders, ControllerOptions{})

	st, err := c.Toggle(context.Background(), "bad")
	require.NoError(t, err)
	assert.False(t, st.Visible)
	assert.False(t, st.Loaded)
	assert.Nil(t, st.Payload.JSONData)
}

func TestToggle_SingleLoadInFlight(t *testing.T) {
	reg := testRegistry(t, LayerDescriptor{ID: "slow"})
	release := make(chan struct{})
	var calls atomic.Int32
	loaders := LoaderTable{"slow": {JSON: LoaderFunc(func(context.Context, LayerDescriptor) (Payload, error) {
		calls.Add(1)
		<-release
		return Payload{JSONData: "done"}, nil
	})}}
	c, store, _ := newTestController(t, reg, loaders, ControllerOptions{})

	done := make(chan LayerState)
	go func() {
		st, _ := c.Toggle(context.Background(), "slow")
		done <- st
	}()
	require.Eventually(t, func() bool { return store.Get("slow").Loading }, time.Second, time.Millisecond)

	// Hide and show again while loading: no second load starts.
	st, err := c.Toggle(context.Background(), "slow")
	require.NoError(t, err)
	assert.False(t, st.Visible)
	assert.True(t, st.Loading)
	st, err = c.Toggle(context.Background(), "slow")
	require.NoError(t, err)
	assert.True(t, st.Visible)
	assert.Len(t, store.LoadingLayers(), 1)

	close(release)
	final := <-done
	assert.Equal(t, int32(1), calls.Load())
	assert.True(t, final.Loaded)
	assert.False(t, final.Loading)
	assert.Equal(t, "done", final.Payload.JSONData)
	assert.Empty(t, store.LoadingLayers())
}

func TestToggle_HiddenWhileLoadingStillStoresResult(t *testing.T) {
	reg := testRegistry(t, LayerDescriptor{ID: "slow"})
	release := make(chan struct{})
	loaders := LoaderTable{"slow": {JSON: LoaderFunc(func(context.Context, LayerDescriptor) (Payload, error) {
		<-release
		return Payload{JSONData: "late"}, nil
	})}}
	c, store, _ := newTestController(t, reg, loaders, ControllerOptions{})

	done := make(chan struct{})
	go func() {
		c.Toggle(context.Background(), "slow")
		close(done)
	}()
	require.Eventually(t, func() bool { return store.Get("slow").Loading }, time.Second, time.Millisecond)
	_, err := c.Toggle(context.Background(), "slow")
	require.NoError(t, err)

	close(release)
	<-done
	st := store.Get("slow")
	assert.False(t, st.Visible)
	assert.True(t, st.Loaded)
	assert.Equal(t, "late", st.Payload.JSONData)
}

func TestToggle_CallerCancellationDoesNotAbortLoad(t *testing.T) {
	reg := testRegistry(t, LayerDescriptor{ID: "l"})
	loaders := LoaderTable{"l": {JSON: LoaderFunc(func(ctx context.Context, _ LayerDescriptor) (Payload, error) {
		if err := ctx.Err(); err != nil {
			return Payload{}, err
		}
		return Payload{JSONData: "ok"}, nil
	})}}
	c, _, _ := newTestController(t, reg, loaders, ControllerOptions{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	st, err := c.Toggle(ctx, "l")
	require.NoError(t, err)
	assert.True(t, st.Loaded)
}

func TestReload_InvisibleNeverLoadedDoesNothing(t *testing.T) {
	reg := testRegistry(t, LayerDescriptor{ID: "idle"})
	loaders := LoaderTable{"idle": {JSON: LoaderFunc(func(context.Context, LayerDescriptor) (Payload, error) {
		t.Fatal("loader must not run")
		return Payload{}, nil
	})}}
	c, _, _ := newTestController(t, reg, loaders, ControllerOptions{})

	st, err := c.Reload(context.Background(), "idle")
	require.NoError(t, err)
	assert.False(t, st.Visible)
	assert.False(t, st.Loading)
	assert.False(t, st.Loaded)
}

func TestReload_VisibleLayerLoadsAgain(t *testing.T) {
	reg := testRegistry(t, LayerDescriptor{ID: "r"})
	var calls atomic.Int32
	loaders := LoaderTable{"r": {JSON: LoaderFunc(func(context.Context, LayerDescriptor) (Payload, error) {
		n := calls.Add(1)
		return Payload{JSONData: n}, nil
	})}}
	c, _, _ := newTestController(t, reg, loaders, ControllerOptions{})

	_, err := c.Toggle(context.Background(), "r")
	require.NoError(t, err)
	st, err := c.Reload(context.Background(), "r")
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, int32(2), st.Payload.JSONData)
	assert.True(t, st.Loaded)
	assert.False(t, st.Loading)
}

func TestReload_SkippedWhileLoading(t *testing.T) {
	reg := testRegistry(t, LayerDescriptor{ID: "slow"})
	release := make(chan struct{})
	var calls atomic.Int32
	loaders := LoaderTable{"slow": {JSON: LoaderFunc(func(context.Context, LayerDescriptor) (Payload, error) {
		calls.Add(1)
		<-release
		return Payload{JSONData: "first"}, nil
	})}}
	c, store, logs := newTestController(t, reg, loaders, ControllerOptions{})

	done := make(chan LayerState)
	go func() {
		st, _ := c.Toggle(context.Background(), "slow")
		done <- st
	}()
	require.Eventually(t, func() bool { return store.Get("slow").Loading }, time.Second, time.Millisecond)

	st, err := c.Reload(context.Background(), "slow")
	require.NoError(t, err)
	assert.True(t, st.Loading)
	assert.True(t, st.Visible)
	assert.True(t, store.Get("slow").Loading)

	close(release)
	final := <-done
	assert.Equal(t, int32(1), calls.Load())
	assert.True(t, final.Loaded)
	assert.False(t, final.Loading)
	assert.Equal(t, "first", final.Payload.JSONData)
	assert.Contains(t, logs.String(), "reload skipped")
}

func TestReload_FailureKeepsVisibility(t *testing.T) {
	reg := testRegistry(t, LayerDescriptor{ID: "r"})
	fail := false
	loaders := LoaderTable{"r": {JSON: LoaderFunc(func(context.Context, LayerDescriptor) (Payload, error) {
		if fail {
			return Payload{}, errors.New("gone")
		}
		return Payload{JSONData: "first"}, nil
	})}}
	c, _, logs := newTestController(t, reg, loaders, ControllerOptions{})

	_, err := c.Toggle(context.Background(), "r")
	require.NoError(t, err)
	fail = true

	st, err := c.Reload(context.Background(), "r")
	require.NoError(t, err)
	assert.True(t, st.Visible)
	assert.False(t, st.Loading)
	assert.False(t, st.Loaded)
	assert.Equal(t, "first", st.Payload.JSONData)
	assert.Contains(t, logs.String(), "gone")
}

func TestReload_UnknownLayer(t *testing.T) {
	c, _, _ := newTestController(t, testRegistry(t), LoaderTable{}, ControllerOptions{})
	_, err := c.Reload(context.Background(), "nope")
	require.ErrorIs(t, err, ErrLayerNotFound)
}

func TestController_MaxConcurrentLoads(t *testing.T) {
	reg := testRegistry(t, LayerDescriptor{ID: "a"}, LayerDescriptor{ID: "b"})
	release := make(chan struct{})
	var inFlight, peak atomic.Int32
	blocking := LoaderFunc(func(context.Context, LayerDescriptor) (Payload, error) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		<-release
		inFlight.Add(-1)
		return Payload{}, nil
	})
	loaders := LoaderTable{"a": {JSON: blocking}, "b": {JSON: blocking}}
	c, store, _ := newTestController(t, reg, loaders, ControllerOptions{MaxConcurrentLoads: 1})

	var wg sync.WaitGroup
	for _, id := range []string{"a", "b"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Toggle(context.Background(), id)
		}()
	}
	require.Eventually(t, func() bool { return inFlight.Load() == 1 }, time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return len(store.LoadingLayers()) == 2 }, time.Second, time.Millisecond)

	close(release)
	wg.Wait()
	assert.Equal(t, int32(1), peak.Load())
	assert.Len(t, store.VisibleLayers(), 2)
}
