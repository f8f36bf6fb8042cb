package main

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/ghetzel/go-stockutil/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"golang.org/x/sync/errgroup"

	"github.com/obinnaokechukwu/layershim"
	"github.com/obinnaokechukwu/layershim/chain"
	"github.com/obinnaokechukwu/layershim/config"
	"github.com/obinnaokechukwu/layershim/dispatch"
	"github.com/obinnaokechukwu/layershim/internal/handles"
	"github.com/obinnaokechukwu/layershim/internal/platform"
	"github.com/obinnaokechukwu/layershim/observability"
	"github.com/obinnaokechukwu/layershim/registry"
)

const callFailed = ^uintptr(0)

const (
	procSubmit  = `vkQueueSubmit`
	procDestroy = `vkDestroyDevice`
)

var outcomeOrder = []string{`ok`, `absent`, `capacity`, `stuck`, `failed`}

type raceOptions struct {
	Objects    int
	Readers    int
	BuildDelay time.Duration
	Policy     string
}

type raceSummary struct {
	Platform    string           `json:"platform"`
	Policy      string           `json:"policy"`
	Objects     int              `json:"objects"`
	Calls       int64            `json:"calls"`
	DriverCalls int64            `json:"driver_calls"`
	Outcomes    map[string]int64 `json:"outcomes"`
	Lookups     map[string]int64 `json:"lookups"`
	Elapsed     string           `json:"elapsed"`
}

// syntheticDevice stands in for a driver object; its handle is minted by
// the driver's handle table.
type syntheticDevice struct {
	calls atomic.Int64
}

type driver struct {
	objects *handles.Table
	delay   time.Duration
}

func (d *driver) resolve(object uintptr, name string) dispatch.Proc {
	if name == procSubmit && d.delay > 0 {
		time.Sleep(d.delay)
	}
	return dispatch.ProcFunc(func(args ...uintptr) uintptr {
		if len(args) == 0 {
			return callFailed
		}
		dev, ok := handles.LookupAs[*syntheticDevice](d.objects, args[0])
		if !ok {
			return callFailed
		}
		dev.calls.Add(1)
		return uintptr(layershim.Success)
	})
}

func (d *driver) deviceInfo() *chain.Struct {
	return &chain.Struct{
		Type: chain.StructureTypeLoaderDeviceCreateInfo,
		Value: &layershim.LoaderDeviceInfo{
			Function: layershim.LayerLinkInfo,
			LayerInfo: &layershim.DeviceLink{
				NextGetInstanceProcAddr: d.resolve,
				NextGetDeviceProcAddr:   d.resolve,
			},
		},
	}
}

func (d *driver) instanceInfo() *chain.Struct {
	return &chain.Struct{
		Type: chain.StructureTypeLoaderInstanceCreateInfo,
		Value: &layershim.LoaderInstanceInfo{
			Function:  layershim.LayerLinkInfo,
			LayerInfo: &layershim.InstanceLink{NextGetInstanceProcAddr: d.resolve},
		},
	}
}

func classify(err error) string {
	switch {
	case err == nil:
		return `ok`
	case errors.Is(err, layershim.ErrNoDispatch):
		return `absent`
	case registry.IsCapacity(err):
		return `capacity`
	case errors.Is(err, registry.ErrStuck):
		return `stuck`
	default:
		return `failed`
	}
}

// runRace creates opts.Objects devices. Each device's readers start calling
// into it as soon as its handle exists, so they race the table build.
func runRace(ctx context.Context, cfg config.Config, opts raceOptions) (*raceSummary, error) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer provider.Shutdown(ctx)

	layerOpts := []layershim.Option{
		layershim.WithMetrics(observability.NewMetricsRecorder(provider)),
		layershim.WithDeviceFunctions(procSubmit, procDestroy),
	}
	if opts.Policy != `` {
		policy, err := registry.ParsePolicy(opts.Policy)
		if err != nil {
			return nil, err
		}
		layerOpts = append(layerOpts, layershim.WithRegistryOptions(registry.WithPolicy(policy)))
	}

	layer, err := newLayer(cfg, layerOpts...)
	if err != nil {
		return nil, err
	}
	defer layer.Close()

	drv := &driver{objects: handles.NewTable(), delay: opts.BuildDelay}
	instance := drv.objects.Register(`instance`)
	physical := drv.objects.Register(`physical device`)

	if _, err := layer.CreateInstance(ctx, drv.instanceInfo(), func(dispatch.ProcAddrFunc) (uintptr, layershim.Result) {
		return instance, layershim.Success
	}); err != nil {
		return nil, err
	}
	if err := layer.AddChild(ctx, instance, dispatch.KindPhysicalDevice, physical); err != nil {
		return nil, err
	}

	var outcomes [5]atomic.Int64
	record := func(err error) {
		name := classify(err)
		for i, o := range outcomeOrder {
			if o == name {
				outcomes[i].Add(1)
			}
		}
		if name == `failed` {
			log.Debugf("call failed: %v", err)
		}
	}

	start := time.Now()
	devices := make([]uintptr, opts.Objects)
	g, gctx := errgroup.WithContext(ctx)

	for i := range devices {
		dev := &syntheticDevice{}
		handle := drv.objects.Register(dev)
		devices[i] = handle

		g.Go(func() error {
			_, err := layer.CreateDevice(gctx, physical, drv.deviceInfo(), func(dispatch.ProcAddrFunc) (uintptr, layershim.Result) {
				return handle, layershim.Success
			})
			if err != nil {
				return fmt.Errorf("create device %#x: %w", handle, err)
			}
			return nil
		})

		for r := 0; r < opts.Readers; r++ {
			g.Go(func() error {
				_, err := layer.Invoke(gctx, dispatch.KindDevice, handle, procSubmit, handle)
				record(err)
				return nil
			})
		}
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	elapsed := time.Since(start)

	var driverCalls int64
	for _, handle := range devices {
		if err := layer.DestroyDevice(ctx, handle, 0); err != nil {
			return nil, err
		}
		if dev, ok := drv.objects.Unregister(handle).(*syntheticDevice); ok {
			driverCalls += dev.calls.Load()
		}
	}
	if err := layer.DestroyInstance(ctx, instance, 0); err != nil {
		return nil, err
	}

	summary := &raceSummary{
		Platform:    platform.GOOS() + `/` + platform.GOARCH(),
		Policy:      layer.Tables().Registry(dispatch.KindDevice).Policy().String(),
		Objects:     opts.Objects,
		DriverCalls: driverCalls,
		Outcomes:    make(map[string]int64),
		Elapsed:     elapsed.String(),
	}
	for i, o := range outcomeOrder {
		summary.Outcomes[o] = outcomes[i].Load()
		summary.Calls += outcomes[i].Load()
	}

	summary.Lookups, err = collectLookups(ctx, reader)
	if err != nil {
		return nil, err
	}
	log.Infof("%d devices, %d calls in %v", summary.Objects, summary.Calls, elapsed)
	return summary, nil
}

// collectLookups sums the registry lookup counter by outcome.
func collectLookups(ctx context.Context, reader *sdkmetric.ManualReader) (map[string]int64, error) {
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		return nil, err
	}
	lookups := make(map[string]int64)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != `layershim.registry.lookups` {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				continue
			}
			for _, dp := range sum.DataPoints {
				outcome, _ := dp.Attributes.Value(`outcome`)
				lookups[outcome.AsString()] += dp.Value
			}
		}
	}
	return lookups, nil
}
