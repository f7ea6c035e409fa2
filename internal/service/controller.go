package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/joeblew999/plat-gridmap/internal/metrics"
)

// ControllerOptions tunes a Controller.
type ControllerOptions struct {
	// MaxConcurrentLoads bounds loads across all layers. 0 means unbounded.
	MaxConcurrentLoads int64
}

// Controller runs the per-layer visibility/load state machine:
//
//	idle → loading → loaded
//	            └──→ idle (visibility reverted on failure)
//
// A layer only enters loading when it is not already loading, so at most
// one load per layer is in flight. Loads of different layers may overlap.
type Controller struct {
	registry *Registry
	store    *StateStore
	loaders  LoaderTable
	log      zerolog.Logger
	metrics  *metrics.Metrics
	sem      *semaphore.Weighted
}

// NewController wires a controller. m may be nil.
func NewController(reg *Registry, store *StateStore, loaders LoaderTable, log zerolog.Logger, m *metrics.Metrics, opts ControllerOptions) *Controller {
	c := &Controller{
		registry: reg,
		store:    store,
		loaders:  loaders,
		log:      log.With().Str("component", "controller").Logger(),
		metrics:  m,
	}
	if opts.MaxConcurrentLoads > 0 {
		c.sem = semaphore.NewWeighted(opts.MaxConcurrentLoads)
	}
	return c
}

// Toggle inverts a layer's visibility. The first time a layer becomes
// visible its loader runs and Toggle waits for it. Load failures are
// logged and leave the layer hidden; they are not returned. The only
// error is ErrLayerNotFound.
func (c *Controller) Toggle(ctx context.Context, id string) (LayerState, error) {
	desc, ok := c.registry.Find(id)
	if !ok {
		c.log.Error().Str("layer", id).Msg("toggle: layer not found")
		return LayerState{}, fmt.Errorf("%w: %s", ErrLayerNotFound, id)
	}
	c.metrics.IncToggle(id)

	ls := c.loaders.Get(id)
	var start bool
	st := c.store.Update(id, func(st *LayerState) {
		st.Visible = !st.Visible
		start = st.Visible && !st.Loaded && !st.Loading && ls.HasLoader()
		if start {
			st.Loading = true
		}
	})
	if !start {
		return st, nil
	}

	// Loads are not cancellable: a caller going away does not stop them.
	payload, err := c.load(context.WithoutCancel(ctx), desc, ls)
	if err != nil {
		c.log.Error().Err(err).Str("layer", id).Str("name", desc.Name).Msg("error loading layer")
		c.store.Merge(id, LayerStateUpdate{Visible: ptr(false)})
	} else {
		c.store.Merge(id, LayerStateUpdate{Payload: &payload, Loaded: ptr(true)})
	}
	return c.store.Merge(id, LayerStateUpdate{Loading: ptr(false)}), nil
}

// Reload discards the loaded flag and, if the layer is visible and has a
// loader, loads it again. Failures are logged and only clear loading.
// A reload while a load is in flight is skipped.
func (c *Controller) Reload(ctx context.Context, id string) (LayerState, error) {
	desc, ok := c.registry.Find(id)
	if !ok {
		c.log.Error().Str("layer", id).Msg("reload: layer not found")
		return LayerState{}, fmt.Errorf("%w: %s", ErrLayerNotFound, id)
	}

	ls := c.loaders.Get(id)
	var start, busy bool
	st := c.store.Update(id, func(st *LayerState) {
		if st.Loading {
			busy = true
			return
		}
		st.Loaded = false
		start = st.Visible && ls.HasLoader()
		st.Loading = start
	})
	if busy {
		c.log.Warn().Str("layer", id).Msg("reload skipped: load already in flight")
		return st, nil
	}
	if !start {
		return st, nil
	}

	payload, err := c.load(context.WithoutCancel(ctx), desc, ls)
	if err != nil {
		c.log.Error().Err(err).Str("layer", id).Str("name", desc.Name).Msg("error reloading layer")
	} else {
		c.store.Merge(id, LayerStateUpdate{Payload: &payload, Loaded: ptr(true)})
	}
	return c.store.Merge(id, LayerStateUpdate{Loading: ptr(false)}), nil
}

// load runs the layer's loader, JSON first, then applies the draw transform.
func (c *Controller) load(ctx context.Context, desc LayerDescriptor, ls Loaders) (p Payload, err error) {
	loader := ls.JSON
	if loader == nil {
		loader = ls.GeoJSON
	}
	if loader == nil {
		return Payload{}, ErrNoLoader
	}

	if c.sem != nil {
		if err := c.sem.Acquire(ctx, 1); err != nil {
			return Payload{}, err
		}
		defer c.sem.Release(1)
	}

	start := time.Now()
	c.metrics.LoadStarted()
	defer func() {
		result := metrics.ResultSuccess
		if err != nil {
			result = metrics.ResultFailure
		}
		c.metrics.LoadFinished(desc.ID, result, time.Since(start))
	}()

	c.log.Debug().Str("layer", desc.ID).Msg("loading layer")
	p, err = loader.Load(ctx, desc)
	if err != nil {
		return Payload{}, err
	}
	if ls.Transform != nil && p.ProcessedJSONData != nil {
		draw, err := ls.Transform.Transform(p.ProcessedJSONData)
		if err != nil {
			return Payload{}, fmt.Errorf("draw transform: %w", err)
		}
		p.DrawData = draw
	}
	c.log.Info().Str("layer", desc.ID).Dur("took", time.Since(start)).Msg("layer loaded")
	return p, nil
}

// Registry returns the controller's registry.
func (c *Controller) Registry() *Registry { return c.registry }

// Store returns the controller's state store.
func (c *Controller) Store() *StateStore { return c.store }
