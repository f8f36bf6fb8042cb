package registry

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/obinnaokechukwu/layershim/observability"
)

// DefaultWaitTimeout bounds how long Get waits for a reserved key to publish.
const DefaultWaitTimeout = 5 * time.Second

// Policy selects how handles grant access to payloads.
type Policy int

const (
	// PolicyShared hands out reference-counted handles. Readers of any keys
	// never block each other; a removed payload is destroyed when the last
	// handle is released.
	PolicyShared Policy = iota

	// PolicyExclusive makes every handle hold a registry-wide access lock
	// for its lifetime. Payload access is fully serialized.
	PolicyExclusive
)

// String returns the policy name.
func (p Policy) String() string {
	switch p {
	case PolicyShared:
		return "shared"
	case PolicyExclusive:
		return "exclusive"
	default:
		return fmt.Sprintf("policy(%d)", int(p))
	}
}

// ParsePolicy converts "shared" or "exclusive" to a Policy.
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "shared":
		return PolicyShared, nil
	case "exclusive":
		return PolicyExclusive, nil
	default:
		return PolicyShared, fmt.Errorf("registry: unknown policy %q", s)
	}
}

type settings struct {
	name          string
	waitSlots     int
	pendingCap    int
	waitTimeout   time.Duration
	policy        Policy
	destroy       any
	logger        *slog.Logger
	metrics       observability.MetricsRecorder
	spans         observability.SpanManager
	panicOnMisuse bool
}

// Option configures a Registry.
type Option func(*settings)

// WithName sets the name used in logs and metric attributes.
func WithName(name string) Option {
	return func(s *settings) { s.name = name }
}

// WithWaitSlots sets the wait slot pool capacity.
func WithWaitSlots(n int) Option {
	return func(s *settings) { s.waitSlots = n }
}

// WithPendingCapacity sets the pending log capacity.
func WithPendingCapacity(n int) Option {
	return func(s *settings) { s.pendingCap = n }
}

// WithWaitTimeout bounds lookups waiting on a reserved key.
// A timeout <= 0 waits until the context is done.
func WithWaitTimeout(d time.Duration) Option {
	return func(s *settings) { s.waitTimeout = d }
}

// WithPolicy selects the handle ownership policy.
func WithPolicy(p Policy) Option {
	return func(s *settings) { s.policy = p }
}

// WithDestroy registers a callback run exactly once for each payload that
// leaves the registry, after the last handle to it is released.
// The key and value types must match the Registry's.
func WithDestroy[K comparable, V any](fn func(K, V)) Option {
	return func(s *settings) { s.destroy = fn }
}

// WithLogger sets the structured logger. A nil logger disables logging.
func WithLogger(l *slog.Logger) Option {
	return func(s *settings) { s.logger = l }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m observability.MetricsRecorder) Option {
	return func(s *settings) { s.metrics = m }
}

// WithSpans sets the span manager used around blocking waits.
func WithSpans(sm observability.SpanManager) Option {
	return func(s *settings) { s.spans = sm }
}

// WithPanicOnMisuse turns protocol misuse errors into panics.
func WithPanicOnMisuse() Option {
	return func(s *settings) { s.panicOnMisuse = true }
}
