// Package registry provides a concurrent keyed store for payloads attached to
// externally created objects, such as dispatch tables attached to API handles.
//
// The typical race looks like this: a layer calls the next layer's create
// function and gets back a new handle. Before the layer has built and stored
// its payload for that handle, another thread (or the driver itself) already
// calls into the layer with the handle. A plain mutex-guarded map either
// reports the handle as unknown or, if the lookup waits while holding the
// map lock, deadlocks against the creator.
//
// # Protocol
//
// The creator announces the handle as soon as it exists and publishes the
// payload once it is built:
//
//	c, err := reg.Reserve(device)
//	if err != nil {
//	    return err
//	}
//	table := buildTable(device) // lookups for device wait meanwhile
//	h, err := c.Publish(ctx, table)
//	if err != nil {
//	    return err
//	}
//	defer h.Release()
//
// Lookups never hold the registry lock while waiting:
//
//	h, err := reg.Get(ctx, device)
//	if err != nil {
//	    return err // capacity, stuck or canceled
//	}
//	if h == nil {
//	    // no interception context: forward unmodified
//	}
//	defer h.Release()
//
// A lookup for a key that is neither published nor reserved returns absent
// immediately. A lookup for a reserved key joins the PendingLog: the first
// waiter for the key takes a slot from the WaitSlotPool, later waiters share
// it. Publish retires the record under the structural lock and signals the
// slot after releasing it.
//
// # Capacity
//
// The pool and the log are fixed-size. Running out is reported as a
// *CapacityError; it means more creations are racing lookups at once than
// the registry was sized for.
//
// # Policies
//
// PolicyShared (default) hands out reference-counted handles. PolicyExclusive
// serializes all payload access through a single lock held by each handle.
package registry
