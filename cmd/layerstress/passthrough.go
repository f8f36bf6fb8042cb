package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/obinnaokechukwu/layershim/config"
	"github.com/obinnaokechukwu/layershim/dispatch"
)

type passthroughResult struct {
	Library  string    `json:"library"`
	Function string    `json:"function"`
	Args     []uintptr `json:"args,omitempty"`
	Return   uintptr   `json:"return"`
}

// runPassthrough calls args[0] in the passthrough library for an object the
// layer has never seen.
func runPassthrough(ctx context.Context, cfg config.Config, library string, versions []int, args []string) (*passthroughResult, error) {
	res := &passthroughResult{
		Library:  library,
		Function: args[0],
	}
	for _, a := range args[1:] {
		v, err := strconv.ParseUint(a, 0, 64)
		if err != nil {
			return nil, fmt.Errorf("argument %q: %w", a, err)
		}
		res.Args = append(res.Args, uintptr(v))
	}

	layer, err := newLayer(cfg)
	if err != nil {
		return nil, err
	}
	defer layer.Close()

	if err := layer.LoadPassthrough(library, versions...); err != nil {
		return nil, err
	}
	if res.Library == `` {
		res.Library = cfg.String(`next.library`, ``)
	}

	res.Return, err = layer.Invoke(ctx, dispatch.KindInstance, 0, res.Function, res.Args...)
	if err != nil {
		return nil, err
	}
	return res, nil
}
