// Package layershim is the runtime for interception layers that sit between
// an application and a driver behind a handle-based C API.
//
// A Layer keeps one dispatch table per instance and device, created while the
// next layer's create call is still returning, and finds it again from any
// object handle the application passes in. Per-function hooks see every call
// and forward it to the next layer.
//
//	l, err := layershim.New("overlay", layershim.WithLogger(logger))
//	if err != nil {
//	    return err
//	}
//	l.Hook("vkQueuePresentKHR", layershim.HookFunc(func(inv *layershim.Invocation) uintptr {
//	    drawOverlay(inv.Object)
//	    return inv.Forward()
//	}))
package layershim

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/obinnaokechukwu/layershim/chain"
	"github.com/obinnaokechukwu/layershim/config"
	"github.com/obinnaokechukwu/layershim/dispatch"
	"github.com/obinnaokechukwu/layershim/observability"
	"github.com/obinnaokechukwu/layershim/registry"
)

// Layer is the state of one interception layer.
type Layer struct {
	id     string
	name   string
	tables *dispatch.Tables

	instanceNames []string
	deviceNames   []string
	disabled      map[string]struct{}

	hooksMu sync.RWMutex
	hooks   map[string]Hook

	passMu      sync.RWMutex
	passthrough dispatch.ProcAddrFunc
	passCloser  io.Closer

	logger  *slog.Logger
	metrics observability.MetricsRecorder
	spans   observability.SpanManager
	cfg     *config.Config
	regOpts []registry.Option

	closed atomic.Bool
}

// Option configures a Layer.
type Option func(*Layer)

// WithLogger sets the logger. Without it the layer does not log.
func WithLogger(l *slog.Logger) Option {
	return func(layer *Layer) { layer.logger = l }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m observability.MetricsRecorder) Option {
	return func(layer *Layer) { layer.metrics = m }
}

// WithSpans sets the span manager.
func WithSpans(sm observability.SpanManager) Option {
	return func(layer *Layer) { layer.spans = sm }
}

// WithConfig applies registry.*, functions.* and next.* settings from cfg.
func WithConfig(cfg config.Config) Option {
	return func(layer *Layer) { layer.cfg = &cfg }
}

// WithRegistryOptions passes options to every dispatch table registry.
// They are applied after the ones derived from WithConfig.
func WithRegistryOptions(opts ...registry.Option) Option {
	return func(layer *Layer) { layer.regOpts = append(layer.regOpts, opts...) }
}

// WithInstanceFunctions sets the instance functions resolved when an
// instance table is built. Others are resolved on first use.
func WithInstanceFunctions(names ...string) Option {
	return func(layer *Layer) { layer.instanceNames = names }
}

// WithDeviceFunctions sets the device functions resolved when a device
// table is built.
func WithDeviceFunctions(names ...string) Option {
	return func(layer *Layer) { layer.deviceNames = names }
}

// New creates a layer.
func New(name string, opts ...Option) (*Layer, error) {
	l := &Layer{
		id:       uuid.NewString(),
		name:     name,
		hooks:    make(map[string]Hook),
		disabled: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.metrics == nil {
		l.metrics = observability.NoopMetrics{}
	}
	if l.spans == nil {
		l.spans = observability.NoopSpanManager{}
	}
	l.logger = observability.EnrichLogger(l.logger, l.id, l.name)

	var regOpts []registry.Option
	if l.cfg != nil {
		cfgOpts, err := l.cfg.RegistryOptions()
		if err != nil {
			return nil, err
		}
		regOpts = append(regOpts, cfgOpts...)
		if l.instanceNames == nil {
			l.instanceNames = l.cfg.StringSlice("functions.instance", nil)
		}
		if l.deviceNames == nil {
			l.deviceNames = l.cfg.StringSlice("functions.device", nil)
		}
		for _, fn := range DelimitString(l.cfg.String("functions.disabled", ""), ',') {
			l.disabled[fn] = struct{}{}
		}
	}
	regOpts = append(regOpts, registry.WithMetrics(l.metrics), registry.WithSpans(l.spans))
	regOpts = append(regOpts, l.regOpts...)
	l.tables = dispatch.NewTables(l.logger, regOpts...)
	return l, nil
}

// ID returns the unique id of this layer instance.
func (l *Layer) ID() string {
	return l.id
}

// Name returns the layer name.
func (l *Layer) Name() string {
	return l.name
}

// Tables returns the dispatch tables.
func (l *Layer) Tables() *dispatch.Tables {
	return l.tables
}

// Hook installs h for the named function, replacing any previous hook.
func (l *Layer) Hook(name string, h Hook) {
	l.hooksMu.Lock()
	l.hooks[name] = h
	l.hooksMu.Unlock()
}

// Unhook removes the hook for name and reports whether there was one.
func (l *Layer) Unhook(name string) bool {
	l.hooksMu.Lock()
	defer l.hooksMu.Unlock()
	_, ok := l.hooks[name]
	delete(l.hooks, name)
	return ok
}

func (l *Layer) hook(name string) Hook {
	if _, off := l.disabled[name]; off {
		return nil
	}
	l.hooksMu.RLock()
	defer l.hooksMu.RUnlock()
	return l.hooks[name]
}

// InstanceCreateFunc calls the next layer's instance create function using
// the resolver taken from the link info, and returns the new instance.
type InstanceCreateFunc func(next dispatch.ProcAddrFunc) (instance uintptr, res Result)

// DeviceCreateFunc calls the next layer's device create function.
type DeviceCreateFunc func(next dispatch.ProcAddrFunc) (device uintptr, res Result)

// CreateInstance bootstraps from the instance create-info chain, lets create
// call down the chain and publishes the table for the new instance. Calls
// for the instance arriving while its table is being built wait for it.
func (l *Layer) CreateInstance(ctx context.Context, info *chain.Struct, create InstanceCreateFunc) (uintptr, error) {
	if l.closed.Load() {
		return 0, ErrClosed
	}
	gipa, _, err := NextInstanceProcAddrs(info)
	if err != nil {
		return 0, &ResultError{Op: "create instance", Result: ErrorInitializationFailed, Err: err}
	}
	instance, res := create(gipa)
	if err := NewResultError(res, "create instance"); err != nil {
		return 0, err
	}
	return instance, l.publish(ctx, dispatch.KindInstance, instance, gipa, l.instanceNames)
}

// CreateDevice is CreateInstance for devices. physicalDevice must have been
// registered with AddChild.
func (l *Layer) CreateDevice(ctx context.Context, physicalDevice uintptr, info *chain.Struct, create DeviceCreateFunc) (uintptr, error) {
	if l.closed.Load() {
		return 0, ErrClosed
	}
	h, err := l.tables.Lookup(ctx, dispatch.KindPhysicalDevice, physicalDevice)
	if err != nil {
		return 0, err
	}
	if !h.Has() {
		return 0, fmt.Errorf("%w: physical device %#x", ErrNoDispatch, physicalDevice)
	}
	h.Release()

	_, gdpa, err := NextDeviceProcAddr(info)
	if err != nil {
		return 0, &ResultError{Op: "create device", Result: ErrorInitializationFailed, Err: err}
	}
	device, res := create(gdpa)
	if err := NewResultError(res, "create device"); err != nil {
		return 0, err
	}
	return device, l.publish(ctx, dispatch.KindDevice, device, gdpa, l.deviceNames)
}

func (l *Layer) publish(ctx context.Context, kind dispatch.Kind, object uintptr, resolve dispatch.ProcAddrFunc, names []string) error {
	c, err := l.tables.Reserve(kind, object)
	if err != nil {
		return err
	}
	h, err := l.tables.Publish(ctx, c, kind, resolve, names)
	if err != nil {
		return err
	}
	h.Release()
	return nil
}

// AddChild registers an enumerated physical device, queue or command buffer
// under its parent's table.
func (l *Layer) AddChild(ctx context.Context, parent uintptr, kind dispatch.Kind, child uintptr) error {
	return l.tables.AddChild(ctx, parent, kind, child)
}

// DestroyInstance calls the next layer's vkDestroyInstance through any hook
// and removes the instance table with its physical devices.
func (l *Layer) DestroyInstance(ctx context.Context, instance, allocator uintptr) error {
	_, callErr := l.Invoke(ctx, dispatch.KindInstance, instance, "vkDestroyInstance", instance, allocator)
	_, err := l.tables.DestroyInstance(ctx, instance)
	return errors.Join(ignoreNoProc(callErr), err)
}

// DestroyDevice calls the next layer's vkDestroyDevice and removes the
// device table with its queues and command buffers.
func (l *Layer) DestroyDevice(ctx context.Context, device, allocator uintptr) error {
	_, callErr := l.Invoke(ctx, dispatch.KindDevice, device, "vkDestroyDevice", device, allocator)
	_, err := l.tables.DestroyDevice(ctx, device)
	return errors.Join(ignoreNoProc(callErr), err)
}

func ignoreNoProc(err error) error {
	if errors.Is(err, dispatch.ErrNoProc) {
		return nil
	}
	return err
}

// Invoke dispatches a call for object: through the hook for name if one is
// installed, otherwise straight to the next layer. Objects without a table
// go to the passthrough library if one is loaded.
//
// The table handle is released before the call so hooks may call back into
// the layer.
func (l *Layer) Invoke(ctx context.Context, kind dispatch.Kind, object uintptr, name string, args ...uintptr) (uintptr, error) {
	elapsed := observability.TimedOperation()
	ctx, span := l.spans.StartCallSpan(ctx, name, fmt.Sprintf("%#x", object))

	next, err := l.next(ctx, kind, object, name)
	if err != nil {
		l.metrics.RecordCall(ctx, name, false, elapsed(), err)
		l.spans.EndSpanWithError(span, err)
		return 0, err
	}

	var ret uintptr
	h := l.hook(name)
	if h != nil {
		ret = h.Call(&Invocation{
			Context: ctx,
			Name:    name,
			Object:  object,
			Args:    args,
			layer:   l,
			next:    next,
		})
	} else {
		ret = next.Call(args...)
	}
	l.metrics.RecordCall(ctx, name, h != nil, elapsed(), nil)
	l.spans.EndSpanWithError(span, nil)
	return ret, nil
}

func (l *Layer) next(ctx context.Context, kind dispatch.Kind, object uintptr, name string) (dispatch.Proc, error) {
	if l.closed.Load() {
		return nil, ErrClosed
	}
	h, err := l.tables.Lookup(ctx, kind, object)
	if err != nil {
		return nil, err
	}
	if h.Has() {
		p, ok := h.Value().Proc(name)
		h.Release()
		if !ok {
			return nil, fmt.Errorf("%w: %s", dispatch.ErrNoProc, name)
		}
		return p, nil
	}

	l.passMu.RLock()
	resolve := l.passthrough
	l.passMu.RUnlock()
	if resolve == nil {
		return nil, fmt.Errorf("%w: %s %#x", ErrNoDispatch, kind, object)
	}
	p := resolve(object, name)
	if p == nil {
		return nil, fmt.Errorf("%w: %s", dispatch.ErrNoProc, name)
	}
	return p, nil
}

// SetPassthrough installs a resolver for calls on objects without a table.
// closer, if not nil, is closed with the layer.
func (l *Layer) SetPassthrough(resolve dispatch.ProcAddrFunc, closer io.Closer) {
	l.passMu.Lock()
	old := l.passCloser
	l.passthrough = resolve
	l.passCloser = closer
	l.passMu.Unlock()
	if old != nil {
		old.Close()
	}
}

// Close removes every table and unloads the passthrough library.
func (l *Layer) Close() error {
	if !l.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := l.tables.Close()
	l.SetPassthrough(nil, nil)
	if l.logger != nil {
		l.logger.Debug("layer closed")
	}
	return err
}
