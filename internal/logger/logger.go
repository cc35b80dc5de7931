package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"os"
	"strings"
	"sync/atomic"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

type Level = slog.Level

const (
	LevelTrace   = slog.Level(-8)
	LevelDebug   = slog.LevelDebug
	LevelInfo    = slog.LevelInfo
	LevelWarning = slog.LevelWarn
	LevelError   = slog.LevelError
	LevelFatal   = slog.Level(12)
)

var (
	Logger          *slog.Logger
	errorSampleRate atomic.Int32
	programLevel    = new(slog.LevelVar)
	shutdownFunc    func(context.Context) error
)

// Counters are incremented on every call, sampled or not.
var (
	TotalErrors   atomic.Int64
	TotalWarnings atomic.Int64

	EvaluationFailures atomic.Int64
	WebhookAttempts    atomic.Int64
	WebhookFailures    atomic.Int64
	ScheduledFirings   atomic.Int64
	ScheduledFailures  atomic.Int64
	LogSinkFailures    atomic.Int64

	Total5xxResponses atomic.Int64
	Total4xxResponses atomic.Int64
)

func init() {
	errorSampleRate.Store(1)
	programLevel.Set(slog.LevelInfo)
	if lvl, err := ParseLevel(os.Getenv("LOG_LEVEL")); err == nil {
		programLevel.Set(lvl)
	}
	useJSON(os.Stdout)
}

// Options configure the process logger. The zero value logs JSON at INFO
// without sampling.
type Options struct {
	Level       string
	SampleRate  int
	OTEL        bool
	ServiceName string
}

// Setup installs the process logger. With OTEL set, records are exported
// over OTLP/gRPC; if the exporter cannot be built it falls back to JSON.
func Setup(ctx context.Context, opts Options) error {
	if opts.Level != "" {
		lvl, err := ParseLevel(opts.Level)
		if err != nil {
			return err
		}
		programLevel.Set(lvl)
	}
	if opts.SampleRate > 0 {
		errorSampleRate.Store(int32(opts.SampleRate))
	}

	if !opts.OTEL {
		useJSON(os.Stdout)
		return nil
	}

	name := opts.ServiceName
	if name == "" {
		name = "automate"
	}
	shutdown, err := setupOTEL(ctx, name)
	if err != nil {
		fmt.Fprintf(os.Stderr, "otel logging unavailable, using JSON: %v\n", err)
		useJSON(os.Stdout)
		return nil
	}
	shutdownFunc = shutdown
	return nil
}

// Discard silences the process logger. Tests use it to keep output clean.
func Discard() {
	useJSON(io.Discard)
}

func useJSON(w io.Writer) {
	Logger = slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: programLevel}))
	slog.SetDefault(Logger)
}

func setupOTEL(ctx context.Context, serviceName string) (func(context.Context) error, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceName(serviceName)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	exporter, err := otlploggrpc.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
	}

	provider := sdklog.NewLoggerProvider(
		sdklog.WithResource(res),
		sdklog.WithProcessor(sdklog.NewBatchProcessor(exporter)),
	)

	Logger = slog.New(&levelHandler{
		level:   programLevel,
		handler: otelslog.NewHandler(serviceName, otelslog.WithLoggerProvider(provider)),
	})
	slog.SetDefault(Logger)

	return provider.Shutdown, nil
}

// levelHandler adds level filtering to the otel bridge, which has none.
type levelHandler struct {
	level   slog.Leveler
	handler slog.Handler
}

func (h *levelHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *levelHandler) Handle(ctx context.Context, r slog.Record) error {
	return h.handler.Handle(ctx, r)
}

func (h *levelHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &levelHandler{level: h.level, handler: h.handler.WithAttrs(attrs)}
}

func (h *levelHandler) WithGroup(name string) slog.Handler {
	return &levelHandler{level: h.level, handler: h.handler.WithGroup(name)}
}

// Shutdown flushes the OTEL exporter, if one is installed.
func Shutdown(ctx context.Context) error {
	if shutdownFunc != nil {
		return shutdownFunc(ctx)
	}
	return nil
}

func SetLevel(level slog.Level) { programLevel.Set(level) }

func GetLevel() slog.Level { return programLevel.Level() }

// ParseLevel converts a level name to slog.Level. An empty name is INFO.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToUpper(s) {
	case "TRACE":
		return LevelTrace, nil
	case "DEBUG":
		return LevelDebug, nil
	case "", "INFO":
		return LevelInfo, nil
	case "WARN", "WARNING":
		return LevelWarning, nil
	case "ERROR":
		return LevelError, nil
	case "FATAL":
		return LevelFatal, nil
	default:
		return LevelInfo, fmt.Errorf("unknown log level: %s", s)
	}
}

func shouldSample() bool {
	rate := errorSampleRate.Load()
	if rate <= 1 {
		return true
	}
	return rand.Intn(int(rate)) == 0
}

func Trace(msg string, args ...any) {
	Logger.Log(context.Background(), LevelTrace, msg, args...)
}

func Debug(msg string, args ...any) { Logger.Debug(msg, args...) }

func Info(msg string, args ...any) { Logger.Info(msg, args...) }

// Warn is sampled; TotalWarnings is not.
func Warn(msg string, args ...any) {
	TotalWarnings.Add(1)
	if shouldSample() {
		Logger.Warn(msg, args...)
	}
}

// Error is sampled; TotalErrors is not.
func Error(msg string, args ...any) {
	TotalErrors.Add(1)
	if shouldSample() {
		Logger.Error(msg, args...)
	}
}

// Fatal logs, flushes the exporter and exits.
func Fatal(msg string, args ...any) {
	Logger.Log(context.Background(), LevelFatal, msg, args...)
	if shutdownFunc != nil {
		_ = shutdownFunc(context.Background())
	}
	os.Exit(1)
}

// ============================================================================
// Domain helpers
// ============================================================================

// EvaluationFailed records a condition that could not be evaluated. It is
// logged apart from a plain non-match.
func EvaluationFailed(ruleID string, err error) {
	EvaluationFailures.Add(1)
	Warn("condition evaluation failed", "rule_id", ruleID, "error", err)
}

// WebhookAttempt counts one outbound webhook request.
func WebhookAttempt() { WebhookAttempts.Add(1) }

// WebhookFailed records a webhook action that ended without success.
func WebhookFailed(ruleID, url string, attempts int, err error) {
	WebhookFailures.Add(1)
	Error("webhook action failed", "rule_id", ruleID, "url", url, "attempts", attempts, "error", err)
}

// ScheduledFired counts one scheduled firing, failed or not.
func ScheduledFired(failed bool) {
	ScheduledFirings.Add(1)
	if failed {
		ScheduledFailures.Add(1)
	}
}

// LogSinkFailed records an execution record that could not be persisted.
func LogSinkFailed(ruleID string, err error) {
	LogSinkFailures.Add(1)
	Error("execution record not persisted", "rule_id", ruleID, "error", err)
}

// HTTPStatus counts API responses by class.
func HTTPStatus(status int) {
	switch {
	case status >= 500:
		Total5xxResponses.Add(1)
		TotalErrors.Add(1)
	case status >= 400:
		Total4xxResponses.Add(1)
		TotalWarnings.Add(1)
	}
}

// Snapshot returns the counters, for the health endpoint.
func Snapshot() map[string]int64 {
	return map[string]int64{
		"errors":              TotalErrors.Load(),
		"warnings":            TotalWarnings.Load(),
		"evaluation_failures": EvaluationFailures.Load(),
		"webhook_attempts":    WebhookAttempts.Load(),
		"webhook_failures":    WebhookFailures.Load(),
		"scheduled_firings":   ScheduledFirings.Load(),
		"scheduled_failures":  ScheduledFailures.Load(),
		"log_sink_failures":   LogSinkFailures.Load(),
		"http_5xx":            Total5xxResponses.Load(),
		"http_4xx":            Total4xxResponses.Load(),
	}
}
