package actor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/berfenger/forecast2mqtt/internal/core/domain"
	"github.com/berfenger/forecast2mqtt/internal/core/port"
	"github.com/berfenger/forecast2mqtt/internal/core/service"
	"github.com/berfenger/forecast2mqtt/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"go.uber.org/zap"
)

const (
	RECONCILE_TASK_TIMEOUT = 30 * time.Second
)

// AccuracyActor serializes access to the accuracy store and the production
// meter. The meter may be nil, in which case reconciliation requires a
// manually supplied actual value.
type AccuracyActor struct {
	behavior actor.Behavior
	stash    *actorutil.Stash
	tracker  *service.AccuracyTracker
	meter    port.ProductionMeter
	logger   *zap.Logger
}

type baselineCaptured struct {
	err error
}

func NewAccuracyActor(tracker *service.AccuracyTracker, meter port.ProductionMeter, logger *zap.Logger) *AccuracyActor {
	act := &AccuracyActor{
		tracker:  tracker,
		meter:    meter,
		behavior: actor.NewBehavior(),
		stash:    &actorutil.Stash{},
		logger:   actorutil.ActorLogger(domain.ACTOR_ID_ACCURACY, logger),
	}
	act.behavior.Become(act.StartingReceive)
	return act
}

func (state *AccuracyActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *AccuracyActor) StartingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("accuracy@starting started")
		state.behavior.Become(state.DefaultReceive)
		state.stash.UnstashAll(ctx)
	default:
		state.logger.Debug("accuracy@starting stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *AccuracyActor) DefaultReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthRequest:
		state.logger.Debug("accuracy@default ActorHealthRequest")
		ctx.Respond(domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_ACCURACY,
			Healthy: true,
			State:   "idle",
		})
	case domain.ReconcileActualRequest:
		state.logger.Debug("accuracy@default ReconcileActualRequest",
			zap.String("date", msg.Date), zap.Float64("actualWh", msg.ActualWh))
		sender := actorutil.ForRequest(msg).ReplyTo(ctx)

		actorutil.MapBackgroundTask(actorutil.NewBackgroundTask(ctx, func() (*domain.ReconcileActualResponse, error) {
			return state.reconcile(msg.Date, msg.ActualWh)
		}), mapTaskResult[domain.ReconcileActualResponse](sender)).Recover(func(err error) backgroundTaskResult {
			return backgroundTaskResult{
				message: domain.ReconcileActualResponse{
					ActorResponseMixIn: domain.ActorResponseMixIn{
						ResponseError: err,
					},
				},
				replyTo: sender,
			}
		}).WithTimeout(RECONCILE_TASK_TIMEOUT).PipeTo(ctx.Self())
		state.behavior.BecomeStacked(state.WaitingTask)
	case domain.CaptureBaselineRequest:
		state.logger.Debug("accuracy@default CaptureBaselineRequest")
		if state.meter == nil {
			state.logger.Warn("accuracy: baseline capture requested but no meter is configured")
			return
		}
		actorutil.NewBackgroundTaskNoError(ctx, func() *baselineCaptured {
			return &baselineCaptured{err: state.meter.CaptureBaseline(context.Background())}
		}).WithTimeout(RECONCILE_TASK_TIMEOUT).OnError(func(err error) {
			ctx.Send(ctx.Self(), baselineCaptured{err: err})
		}).PipeTo(ctx.Self())
	case baselineCaptured:
		if msg.err != nil {
			state.logger.Error("accuracy: baseline capture failed", zap.Error(msg.err))
		} else {
			state.logger.Info("accuracy: baseline captured")
		}
	case domain.ProviderStatsRequest:
		state.logger.Debug("accuracy@default ProviderStatsRequest")
		sender := actorutil.ForRequest(msg).ReplyTo(ctx)

		actorutil.MapBackgroundTask(actorutil.NewBackgroundTask(ctx, state.providerStats),
			mapTaskResult[domain.ProviderStatsResponse](sender)).Recover(func(err error) backgroundTaskResult {
			return backgroundTaskResult{
				message: domain.ProviderStatsResponse{
					ActorResponseMixIn: domain.ActorResponseMixIn{
						ResponseError: err,
					},
				},
				replyTo: sender,
			}
		}).WithTimeout(RECONCILE_TASK_TIMEOUT).PipeTo(ctx.Self())
		state.behavior.BecomeStacked(state.WaitingTask)
	case *actor.Stopping:
		state.close()
	default:
		state.logger.Debug("accuracy@default default recv", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

func (state *AccuracyActor) WaitingTask(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case backgroundTaskResult:
		state.logger.Debug("accuracy@waiting backgroundTaskResult", zap.String("type", fmt.Sprintf("%T", msg.message)))
		if msg.replyTo != nil {
			ctx.Send(msg.replyTo, msg.message)
		}
		state.behavior.UnbecomeStacked()
		state.stash.UnstashAll(ctx)
	case *actor.Stopping:
		state.close()
	default:
		state.logger.Debug("accuracy@waiting stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

// reconcile completes the pending accuracy records of a past date (empty
// means yesterday). A positive actualWh bypasses the production meter.
func (a *AccuracyActor) reconcile(date string, actualWh float64) (*domain.ReconcileActualResponse, error) {
	target, err := resolveDate(date, -1)
	if err != nil {
		return nil, err
	}
	dateKey := target.Format(domain.DateFormat)

	if actualWh <= 0 {
		if a.meter == nil {
			return nil, errors.New("no actual value supplied and no production meter configured")
		}
		actualWh, err = a.meter.DayYieldWh(context.Background(), dateKey)
		if err != nil {
			return nil, err
		}
	}

	completed, err := a.tracker.RecordActual(context.Background(), dateKey, actualWh)
	if err != nil {
		return nil, err
	}
	return &domain.ReconcileActualResponse{
		Date:      dateKey,
		ActualWh:  actualWh,
		Completed: completed,
	}, nil
}

func (a *AccuracyActor) providerStats() (*domain.ProviderStatsResponse, error) {
	stats, err := a.tracker.ProviderStatistics(context.Background(), "")
	if err != nil {
		return nil, err
	}
	return &domain.ProviderStatsResponse{
		Stats: stats,
	}, nil
}

func (a *AccuracyActor) close() {
	if a.meter != nil {
		if err := a.meter.Close(); err != nil {
			a.logger.Warn("accuracy: meter close failed", zap.Error(err))
		}
	}
}
