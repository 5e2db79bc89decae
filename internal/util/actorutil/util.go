package actorutil

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/berfenger/forecast2mqtt/internal/core/domain"
	"github.com/berfenger/forecast2mqtt/internal/mqtt"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/lmittmann/tint"
	"go.uber.org/zap"
)

func PipeToSelfWithRecover(ctx actor.Context, future *actor.Future, mapFn func(error) any) {
	ctx.ReenterAfter(future, func(msg any, err error) {
		if err != nil {
			ctx.Send(ctx.Self(), mapFn(err))
			return
		}
		ctx.Send(ctx.Self(), msg)
	})
}

func NewActorSystemWithZapLogger(logger *zap.Logger) *actor.ActorSystem {
	stdOutLogger := zap.NewStdLog(logger)

	var slogLevel slog.Level = slog.LevelInfo

	switch logger.Level() {
	case zap.DebugLevel:
		slogLevel = slog.LevelDebug
	case zap.InfoLevel:
		slogLevel = slog.LevelInfo
	case zap.WarnLevel:
		slogLevel = slog.LevelWarn
	case zap.ErrorLevel:
		slogLevel = slog.LevelError
	case zap.PanicLevel:
		slogLevel = slog.LevelError
	}

	return actor.NewActorSystem(actor.WithLoggerFactory(func(system *actor.ActorSystem) *slog.Logger {

		// create a new logger
		return slog.New(tint.NewHandler(stdOutLogger.Writer(), &tint.Options{
			Level:      slogLevel,
			TimeFormat: time.DateTime,
		}))
	}))
}

func ActorLogger(actorName string, logger *zap.Logger) *zap.Logger {
	return logger.With(zap.String("actor", actorName))
}

func ParsedMQTTCommandToCommand(cmd mqtt.ParsedMQTTCommand) (domain.ActorRequest, error) {
	if cmd.Command == mqtt.COMMAND_RUN {
		return domain.RunForecastRequest{
			Date: cmd.Payload,
		}, nil
	} else if cmd.Command == mqtt.COMMAND_RECONCILE {
		// payload is "", "date" or "date,actualWh"
		date, rawWh, hasWh := strings.Cut(cmd.Payload, ",")
		var actualWh float64
		if hasWh {
			value, err := strconv.ParseFloat(strings.TrimSpace(rawWh), 64)
			if err != nil {
				return nil, err
			}
			if value < 0 {
				return nil, fmt.Errorf("invalid actual energy value: %s", rawWh)
			}
			actualWh = value
		}
		return domain.ReconcileActualRequest{
			Date:     strings.TrimSpace(date),
			ActualWh: actualWh,
		}, nil
	}
	return nil, nil
}
