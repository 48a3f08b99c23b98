package logger

import "go.uber.org/zap"

// Leveled adapts a zap logger to the key/value leveled logger interface
// expected by HTTP client libraries such as go-retryablehttp.
type Leveled struct {
	sugar *zap.SugaredLogger
}

// NewLeveled wraps logger. The caller skip hides the adapter frame.
func NewLeveled(logger *zap.Logger) *Leveled {
	return &Leveled{sugar: logger.WithOptions(zap.AddCallerSkip(1)).Sugar()}
}

func (l *Leveled) Error(msg string, keysAndValues ...interface{}) {
	l.sugar.Errorw(msg, keysAndValues...)
}

func (l *Leveled) Warn(msg string, keysAndValues ...interface{}) {
	l.sugar.Warnw(msg, keysAndValues...)
}

func (l *Leveled) Info(msg string, keysAndValues ...interface{}) {
	l.sugar.Infow(msg, keysAndValues...)
}

func (l *Leveled) Debug(msg string, keysAndValues ...interface{}) {
	l.sugar.Debugw(msg, keysAndValues...)
}
