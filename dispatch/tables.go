package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/obinnaokechukwu/layershim/observability"
	"github.com/obinnaokechukwu/layershim/registry"
)

// TableHandle is a handle to a table looked up by object.
type TableHandle = registry.Handle[uintptr, *Table]

// Tables keeps one registry per dispatchable kind. Instance and device
// entries own their table; physical device, queue and command buffer
// entries alias the table of their parent and are removed with it.
type Tables struct {
	regs   [numKinds]*registry.Registry[uintptr, *Table]
	logger *slog.Logger
}

// NewTables creates the per-kind registries. opts apply to every registry;
// the registry name is set from the kind.
func NewTables(logger *slog.Logger, opts ...registry.Option) *Tables {
	t := &Tables{logger: logger}
	for k := Kind(0); k < numKinds; k++ {
		kind := k
		kopts := append(append([]registry.Option(nil), opts...),
			registry.WithName(kind.String()),
			registry.WithLogger(logger),
		)
		if kind.Owning() {
			kopts = append(kopts, registry.WithDestroy(func(object uintptr, table *Table) {
				observability.LogTableDestroyed(logger, kind.String(), fmt.Sprintf("%#x", object), len(table.Children()))
			}))
		}
		t.regs[kind] = registry.New[uintptr, *Table](kopts...)
	}
	return t
}

// Registry returns the registry for kind.
func (t *Tables) Registry(kind Kind) *registry.Registry[uintptr, *Table] {
	return t.regs[kind]
}

// Lookup returns the table for object. A nil handle with a nil error means
// the object is unknown to this layer.
func (t *Tables) Lookup(ctx context.Context, kind Kind, object uintptr) (*TableHandle, error) {
	return t.regs[kind].Get(ctx, object)
}

// Reserve announces a freshly created instance or device so that lookups
// wait for its table instead of reporting it absent.
func (t *Tables) Reserve(kind Kind, object uintptr) (*registry.Creation[uintptr, *Table], error) {
	if !kind.Owning() {
		return nil, fmt.Errorf("dispatch: %s tables are aliases and cannot be reserved", kind)
	}
	return t.regs[kind].Reserve(object)
}

// Publish builds the table for a reserved object and publishes it.
func (t *Tables) Publish(ctx context.Context, c *registry.Creation[uintptr, *Table], kind Kind, resolve ProcAddrFunc, names []string) (*TableHandle, error) {
	table := NewTable(kind, c.Key(), resolve, names)
	h, err := c.Publish(ctx, table)
	if err != nil {
		return nil, err
	}
	observability.LogTableCreated(t.logger, kind.String(), fmt.Sprintf("%#x", c.Key()), table.Len())
	return h, nil
}

// CreateInstance builds and publishes the table for instance.
func (t *Tables) CreateInstance(ctx context.Context, instance uintptr, resolve ProcAddrFunc, names []string) (*TableHandle, error) {
	return t.create(ctx, KindInstance, instance, resolve, names)
}

// CreateDevice builds and publishes the table for device.
func (t *Tables) CreateDevice(ctx context.Context, device uintptr, resolve ProcAddrFunc, names []string) (*TableHandle, error) {
	return t.create(ctx, KindDevice, device, resolve, names)
}

func (t *Tables) create(ctx context.Context, kind Kind, object uintptr, resolve ProcAddrFunc, names []string) (*TableHandle, error) {
	c, err := t.Reserve(kind, object)
	if err != nil {
		return nil, err
	}
	return t.Publish(ctx, c, kind, resolve, names)
}

// AddChild registers child as an alias of parent's table. Registering the
// same child again is a no-op, since enumeration calls return the same
// objects repeatedly.
func (t *Tables) AddChild(ctx context.Context, parent uintptr, kind Kind, child uintptr) error {
	if kind.Owning() {
		return fmt.Errorf("dispatch: %s is not an alias kind", kind)
	}
	ph, err := t.regs[kind.Parent()].Get(ctx, parent)
	if err != nil {
		return err
	}
	if !ph.Has() {
		return fmt.Errorf("dispatch: no %s table for %#x", kind.Parent(), parent)
	}
	table := ph.Value()
	ph.Release()

	if !table.AddChild(kind, child) {
		return nil
	}
	h, err := t.regs[kind].Create(ctx, child, table)
	if errors.Is(err, registry.ErrAlreadyExists) || errors.Is(err, registry.ErrDuplicateCreate) {
		return nil
	}
	if err != nil {
		table.RemoveChild(kind, child)
		return err
	}
	h.Release()
	return nil
}

// RemoveChild removes an alias, as when command buffers are freed.
func (t *Tables) RemoveChild(ctx context.Context, kind Kind, child uintptr) (bool, error) {
	h, err := t.regs[kind].Get(ctx, child)
	if err != nil || !h.Has() {
		return false, err
	}
	table := h.Value()
	h.Release()
	table.RemoveChild(kind, child)
	return t.regs[kind].Remove(ctx, child)
}

// DestroyInstance removes the instance table and its physical devices.
func (t *Tables) DestroyInstance(ctx context.Context, instance uintptr) (bool, error) {
	return t.destroy(ctx, KindInstance, instance)
}

// DestroyDevice removes the device table and its queues and command buffers.
func (t *Tables) DestroyDevice(ctx context.Context, device uintptr) (bool, error) {
	return t.destroy(ctx, KindDevice, device)
}

func (t *Tables) destroy(ctx context.Context, kind Kind, object uintptr) (bool, error) {
	h, err := t.regs[kind].Get(ctx, object)
	if err != nil || !h.Has() {
		return false, err
	}
	table := h.Value()
	h.Release()

	var errs []error
	for _, c := range table.Children() {
		if _, err := t.regs[c.Kind].Remove(ctx, c.Object); err != nil {
			errs = append(errs, err)
		}
	}
	removed, err := t.regs[kind].Remove(ctx, object)
	if err != nil {
		errs = append(errs, err)
	}
	return removed, errors.Join(errs...)
}

// Len returns the number of published entries for kind.
func (t *Tables) Len(kind Kind) int {
	return t.regs[kind].Len()
}

// Close closes every registry.
func (t *Tables) Close() error {
	var errs []error
	for _, r := range t.regs {
		if err := r.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
