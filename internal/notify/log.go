package notify

import (
	"context"

	"go.uber.org/zap"

	"storefront-api/internal/util"
)

// LogDispatcher writes codes to the log. Development only.
type LogDispatcher struct{}

func (LogDispatcher) SendAccessCode(_ context.Context, msg AccessCodeMessage) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	util.Warn("Access code (log dispatcher)",
		zap.String("to", msg.To),
		zap.String("role", msg.Role.String()),
		zap.String("code", msg.Code),
		zap.Duration("expires_in", msg.ExpiresIn))
	return nil
}
