package relayer

import (
	"context"
	"time"

	"go.uber.org/zap"
)

const queryServiceName = "QueryService"

// logQueryService wraps QueryService with logging of every call
type logQueryService struct {
	svc    QueryService
	logger *zap.Logger
}

// NewLogQueryService creates a logging decorator for the QueryService.
func NewLogQueryService(svc QueryService, logger *zap.Logger) QueryService {
	return &logQueryService{svc: svc, logger: logger}
}

func (l *logQueryService) done(method string, start time.Time, err error, fields ...zap.Field) {
	fields = append(fields,
		zap.String("service", queryServiceName),
		zap.String("method", method),
		zap.Duration("duration", time.Since(start)),
	)
	if err != nil {
		l.logger.Error(method+" failed", append(fields, zap.Error(err))...)
		return
	}
	l.logger.Debug(method+" completed", fields...)
}

// GetAvailableWorlds wraps the service method with logging
func (l *logQueryService) GetAvailableWorlds(ctx context.Context, universeID string) (worlds []string, err error) {
	start := time.Now()
	defer func() {
		l.done("GetAvailableWorlds", start, err,
			zap.String("universe", universeID),
			zap.Int("worlds", len(worlds)))
	}()
	return l.svc.GetAvailableWorlds(ctx, universeID)
}

// GetAvailableTokenID wraps the service method with logging. Premints are
// state-changing, so success is logged at info level.
func (l *logQueryService) GetAvailableTokenID(ctx context.Context, universeID, world string) (tokenID string, err error) {
	start := time.Now()
	l.logger.Info("GetAvailableTokenID started",
		zap.String("service", queryServiceName),
		zap.String("universe", universeID),
		zap.String("world", world))
	defer func() {
		if err == nil {
			l.logger.Info("IOU token preminted",
				zap.String("universe", universeID),
				zap.String("world", world),
				zap.String("token_id", tokenID),
				zap.Duration("duration", time.Since(start)))
			return
		}
		l.done("GetAvailableTokenID", start, err,
			zap.String("universe", universeID),
			zap.String("world", world))
	}()
	return l.svc.GetAvailableTokenID(ctx, universeID, world)
}

// GetTokenURI wraps the service method with logging
func (l *logQueryService) GetTokenURI(ctx context.Context, universeID, world, tokenID string) (uri string, err error) {
	start := time.Now()
	defer func() {
		l.done("GetTokenURI", start, err,
			zap.String("universe", universeID),
			zap.String("world", world),
			zap.String("token_id", tokenID))
	}()
	return l.svc.GetTokenURI(ctx, universeID, world, tokenID)
}
