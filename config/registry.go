package config

import (
	"github.com/obinnaokechukwu/layershim/registry"
)

// RegistryOptions converts the registry.* keys into registry options.
// Missing keys keep the registry defaults.
func (c Config) RegistryOptions() ([]registry.Option, error) {
	policy, err := registry.ParsePolicy(c.String("registry.policy", ""))
	if err != nil {
		return nil, err
	}
	opts := []registry.Option{
		registry.WithWaitSlots(c.Int("registry.wait_slots", registry.DefaultWaitSlots)),
		registry.WithPendingCapacity(c.Int("registry.pending_capacity", registry.DefaultPendingCapacity)),
		registry.WithWaitTimeout(c.Duration("registry.wait_timeout", registry.DefaultWaitTimeout)),
		registry.WithPolicy(policy),
	}
	if c.Bool("registry.panic_on_misuse", false) {
		opts = append(opts, registry.WithPanicOnMisuse())
	}
	return opts, nil
}
