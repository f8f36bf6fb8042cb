// Package observability provides logging, metrics and tracing for layershim.
//
// Features:
//   - Structured logging via slog (Go stdlib)
//   - Metrics via OpenTelemetry
//   - Tracing via OpenTelemetry
//
// All features are opt-in. Every logging helper accepts a nil logger, and
// NoopMetrics / NoopSpanManager stand in when metrics or tracing are off.
package observability

import (
	"log/slog"
	"time"
)

// EnrichLogger adds layer context to a logger.
// Returns a new logger with layer_id and layer fields.
//
// Example:
//
//	enriched := EnrichLogger(logger, "0c6f...", "overlay")
//	enriched.Info("instance created") // includes layer_id, layer
func EnrichLogger(logger *slog.Logger, layerID, layerName string) *slog.Logger {
	if logger == nil {
		return nil
	}
	return logger.With(
		slog.String("layer_id", layerID),
		slog.String("layer", layerName),
	)
}

// EnrichRegistryLogger adds the registry name to a logger.
func EnrichRegistryLogger(logger *slog.Logger, registry string) *slog.Logger {
	if logger == nil {
		return nil
	}
	return logger.With(slog.String("registry", registry))
}

// LogWaitStart logs a lookup starting to wait on a reserved key.
func LogWaitStart(logger *slog.Logger, key string, slot int) {
	if logger == nil {
		return
	}
	logger.Debug("lookup waiting for creation",
		slog.String("key", key),
		slog.Int("slot", slot),
	)
}

// LogWaitComplete logs a lookup woken by a publish or abort.
func LogWaitComplete(logger *slog.Logger, key string, waited time.Duration) {
	if logger == nil {
		return
	}
	logger.Debug("lookup woken",
		slog.String("key", key),
		slog.Float64("waited_ms", float64(waited.Microseconds())/1000),
	)
}

// LogStuck logs a lookup that gave up waiting on a creation that never published.
func LogStuck(logger *slog.Logger, key string, waited time.Duration) {
	if logger == nil {
		return
	}
	logger.Warn("lookup stuck waiting for creation",
		slog.String("key", key),
		slog.Duration("waited", waited),
	)
}

// LogCapacityExhausted logs a lookup that could not get a wait slot or pending record.
func LogCapacityExhausted(logger *slog.Logger, key, resource string, err error) {
	if logger == nil {
		return
	}
	logger.Error("registry capacity exhausted",
		slog.String("key", key),
		slog.String("resource", resource),
		slog.String("error", err.Error()),
	)
}

// LogMisuse logs a protocol misuse by a producer or teardown caller.
func LogMisuse(logger *slog.Logger, op, key string, err error) {
	if logger == nil {
		return
	}
	logger.Error("registry protocol misuse",
		slog.String("operation", op),
		slog.String("key", key),
		slog.String("error", err.Error()),
	)
}

// LogTableCreated logs a dispatch table published for an object.
func LogTableCreated(logger *slog.Logger, kind, object string, procs int) {
	if logger == nil {
		return
	}
	logger.Debug("dispatch table created",
		slog.String("kind", kind),
		slog.String("object", object),
		slog.Int("procs", procs),
	)
}

// LogTableDestroyed logs a dispatch table removed together with its aliases.
func LogTableDestroyed(logger *slog.Logger, kind, object string, children int) {
	if logger == nil {
		return
	}
	logger.Debug("dispatch table destroyed",
		slog.String("kind", kind),
		slog.String("object", object),
		slog.Int("children", children),
	)
}

// LogPassthroughLoaded logs the library used for calls without dispatch context.
func LogPassthroughLoaded(logger *slog.Logger, name, path string) {
	if logger == nil {
		return
	}
	logger.Info("passthrough library loaded",
		slog.String("library", name),
		slog.String("path", path),
	)
}

// TimedOperation measures the duration of an operation.
// Returns a function that, when called, returns the elapsed time.
//
// Example:
//
//	done := TimedOperation()
//	// ... do work ...
//	elapsed := done()
func TimedOperation() func() time.Duration {
	start := time.Now()
	return func() time.Duration {
		return time.Since(start)
	}
}
