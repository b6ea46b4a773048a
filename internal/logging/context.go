package logging

import (
	"context"
	"fmt"
	"regexp"
	"unicode/utf8"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ContextFields extracts correlation data from context.
func ContextFields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 6)

	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		sc := span.SpanContext()
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
		if sc.IsSampled() {
			fields = append(fields, zap.Bool("trace_sampled", true))
		}
	}

	if requestID := RequestIDFromContext(ctx); requestID != "" {
		fields = append(fields, zap.String("request.id", requestID))
	}

	if recID := RecommendationIDFromContext(ctx); recID != "" {
		fields = append(fields, zap.String("recommendation.id", recID))
	}

	if armID := ArmIDFromContext(ctx); armID != "" {
		fields = append(fields, zap.String("arm.id", armID))
	}

	return fields
}

type requestCtxKey struct{}
type recommendationCtxKey struct{}
type armCtxKey struct{}

const maxIDLen = 128

// Request ids come from clients (X-Request-ID) and are logged verbatim, so
// they are restricted to a safe character set.
var idPattern = regexp.MustCompile(`^[a-zA-Z0-9_.:-]+$`)

func validateID(id, name string) error {
	if id == "" {
		return fmt.Errorf("%s cannot be empty", name)
	}
	if !utf8.ValidString(id) {
		return fmt.Errorf("%s contains invalid UTF-8", name)
	}
	if len(id) > maxIDLen {
		return fmt.Errorf("%s exceeds max length %d", name, maxIDLen)
	}
	if !idPattern.MatchString(id) {
		return fmt.Errorf("%s contains invalid characters", name)
	}
	return nil
}

// RequestIDFromContext extracts request ID from context.
func RequestIDFromContext(ctx context.Context) string {
	if r, ok := ctx.Value(requestCtxKey{}).(string); ok {
		return r
	}
	return ""
}

// WithRequestID adds request ID to context. Invalid ids are dropped and the
// context is returned unchanged.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	if err := validateID(requestID, "requestID"); err != nil {
		return ctx
	}
	return context.WithValue(ctx, requestCtxKey{}, requestID)
}

// RecommendationIDFromContext extracts the recommendation ID from context.
func RecommendationIDFromContext(ctx context.Context) string {
	if r, ok := ctx.Value(recommendationCtxKey{}).(string); ok {
		return r
	}
	return ""
}

// WithRecommendationID adds a recommendation ID to context.
func WithRecommendationID(ctx context.Context, id string) context.Context {
	if err := validateID(id, "recommendationID"); err != nil {
		return ctx
	}
	return context.WithValue(ctx, recommendationCtxKey{}, id)
}

// ArmIDFromContext extracts the arm ID from context.
func ArmIDFromContext(ctx context.Context) string {
	if a, ok := ctx.Value(armCtxKey{}).(string); ok {
		return a
	}
	return ""
}

// WithArmID adds an arm ID to context. Arm ids are opaque caller data, so
// only length and encoding are checked.
func WithArmID(ctx context.Context, armID string) context.Context {
	if armID == "" || len(armID) > maxIDLen || !utf8.ValidString(armID) {
		return ctx
	}
	return context.WithValue(ctx, armCtxKey{}, armID)
}

type loggerCtxKey struct{}

// WithLogger stores logger in context.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerCtxKey{}, logger)
}

// FromContext retrieves logger from context.
// Returns a nop logger if not found.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerCtxKey{}).(*Logger); ok {
		return l
	}
	return NewNop()
}
