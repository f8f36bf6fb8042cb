/*
Package config provides typed access to layer configuration loaded from
YAML, JSON or the environment.

# Basic Usage

	cfg, err := config.FromFile("layer.yaml")
	if err != nil {
	    log.Fatal(err)
	}
	cfg = cfg.WithEnv("LAYERSHIM")

	slots := cfg.Int("registry.wait_slots", registry.DefaultWaitSlots)
	timeout := cfg.Duration("registry.wait_timeout", registry.DefaultWaitTimeout)

Keys are dotted paths into nested maps, so the file

	registry:
	  wait_slots: 128
	  policy: exclusive

yields "registry.wait_slots" and "registry.policy". A flat key containing
dots is found as well.

# Environment

WithEnv(prefix) overlays variables named PREFIX_SECTION_KEY, for example
LAYERSHIM_REGISTRY_WAIT_TIMEOUT=250ms overrides "registry.wait_timeout".
Environment values are strings; the numeric and boolean accessors parse them.

# Keys

	registry.wait_slots        int       wait slot pool capacity (64)
	registry.pending_capacity  int       pending log capacity (64)
	registry.wait_timeout      duration  bound on a blocked lookup (5s)
	registry.policy            string    shared | exclusive
	registry.panic_on_misuse   bool      panic instead of returning misuse errors
	log.level                  string    debug | info | warn | error
	log.format                 string    text | json
	next.library               string    library to forward to without dispatch context
	next.versions              []int     library versions to try
	next.search_paths          []string  extra directories to search
	functions.instance         []string  instance-level functions resolved eagerly
	functions.device           []string  device-level functions resolved eagerly
	functions.disabled         string    comma separated functions that skip hooks

# Thread Safety

Config is safe for concurrent read access. It is never modified after
creation; WithEnv returns a new Config.
*/
package config
