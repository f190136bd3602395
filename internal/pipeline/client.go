package pipeline

import (
	"fmt"

	"go.temporal.io/sdk/client"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/shipyard/internal/config"
)

// Dial connects to the Temporal frontend named in cfg.
func Dial(cfg config.TemporalConfig, logger *zap.Logger) (client.Client, error) {
	c, err := client.Dial(client.Options{
		HostPort:  cfg.Host,
		Namespace: cfg.Namespace,
		Logger:    newSDKLogger(logger),
	})
	if err != nil {
		return nil, fmt.Errorf("unable to create Temporal client: %w", err)
	}
	return c, nil
}

// sdkLogger adapts zap to the SDK's key/value logger.
type sdkLogger struct {
	s *zap.SugaredLogger
}

func newSDKLogger(l *zap.Logger) *sdkLogger {
	if l == nil {
		l = zap.NewNop()
	}
	return &sdkLogger{s: l.Named("temporal").Sugar()}
}

func (l *sdkLogger) Debug(msg string, keyvals ...interface{}) { l.s.Debugw(msg, keyvals...) }
func (l *sdkLogger) Info(msg string, keyvals ...interface{})  { l.s.Infow(msg, keyvals...) }
func (l *sdkLogger) Warn(msg string, keyvals ...interface{})  { l.s.Warnw(msg, keyvals...) }
func (l *sdkLogger) Error(msg string, keyvals ...interface{}) { l.s.Errorw(msg, keyvals...) }
