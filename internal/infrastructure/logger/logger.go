package logger

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sapling/core/internal/infrastructure/config"
)

// Logger is the sugared zap logger shared by every layer. Fields are passed
// as alternating key/value pairs.
type Logger struct {
	*zap.SugaredLogger
}

// New builds a logger from cfg. "json" selects the production encoder,
// anything else the console encoder with caller and stack traces.
func New(cfg config.LoggerConfig) (*Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}

	zc := zap.NewDevelopmentConfig()
	if cfg.Format == "json" {
		zc = zap.NewProductionConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)

	zc.OutputPaths = []string{"stdout"}
	zc.ErrorOutputPaths = []string{"stderr"}
	if cfg.Output == "file" && cfg.Filename != "" {
		zc.OutputPaths = []string{cfg.Filename}
		zc.ErrorOutputPaths = []string{cfg.Filename}
	}

	// Skip this wrapper so callers show up in the caller field.
	zl, err := zc.Build(zap.AddCallerSkip(1))
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return &Logger{SugaredLogger: zl.Sugar()}, nil
}

// NewNop returns a logger that discards everything.
func NewNop() *Logger {
	return &Logger{SugaredLogger: zap.NewNop().Sugar()}
}

func (l *Logger) with(fields ...interface{}) *Logger {
	return &Logger{SugaredLogger: l.SugaredLogger.With(fields...)}
}

// WithComponent tags every entry with the emitting component.
func (l *Logger) WithComponent(component string) *Logger {
	return l.with("component", component)
}

// WithAccount tags every entry with an account id.
func (l *Logger) WithAccount(accountID string) *Logger {
	return l.with("account_id", accountID)
}

// LogAccountAction records a committed state change made for an account,
// such as a completion, a mint or a purchase.
func (l *Logger) LogAccountAction(accountID, action string, metadata map[string]interface{}) {
	fields := make([]interface{}, 0, 4+2*len(metadata))
	fields = append(fields, "account_id", accountID, "action", action)
	for k, v := range metadata {
		fields = append(fields, k, v)
	}
	l.Infow("Account action", fields...)
}

// LogSecurityEvent records rejected credentials and tokens.
func (l *Logger) LogSecurityEvent(event, accountID, ip string, details map[string]interface{}) {
	fields := make([]interface{}, 0, 6+2*len(details))
	fields = append(fields, "security_event", event, "account_id", accountID, "ip", ip)
	for k, v := range details {
		fields = append(fields, k, v)
	}
	l.Warnw("Security event", fields...)
}

// Close flushes buffered entries.
func (l *Logger) Close() error {
	return l.SugaredLogger.Sync()
}
