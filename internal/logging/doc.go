// Package logging provides structured logging for velocity.
//
// # Overview
//
// The package wraps Zap with:
//   - Custom Trace level (-2, below Debug)
//   - Stdout output plus an optional OpenTelemetry log bridge
//   - Automatic context field injection (trace_id, request id, arm, recommendation)
//   - Redaction of sensitive keys such as NATS tokens
//   - Level-aware sampling (errors never sampled)
//
// # Usage
//
//	cfg := logging.NewDefaultConfig()
//	logger, err := logging.NewLogger(cfg, nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer logger.Sync()
//
//	ctx = logging.WithRequestID(ctx, "req_123")
//	ctx = logging.WithArmID(ctx, "emp-42")
//	logger.Info(ctx, "arm updated", zap.Float64("reward", 1))
//
// Output carries the correlation fields:
//
//	{"ts":"…","level":"info","msg":"arm updated","request.id":"req_123","arm.id":"emp-42","reward":1}
//
// # Testing
//
//	tl := logging.NewTestLogger()
//	tl.Warn(ctx, "checkpoint write failed")
//	tl.AssertLogged(t, zapcore.WarnLevel, "checkpoint write failed")
package logging
