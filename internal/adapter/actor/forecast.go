package actor

import (
	"context"
	"fmt"
	"time"

	"github.com/berfenger/forecast2mqtt/internal/adapter/provider"
	"github.com/berfenger/forecast2mqtt/internal/core/domain"
	"github.com/berfenger/forecast2mqtt/internal/core/service"
	"github.com/berfenger/forecast2mqtt/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"go.uber.org/zap"
)

const (
	// A run may call every configured provider sequentially, each with its
	// own call timeout, so the task timeout has to cover the worst case.
	FORECAST_RUN_TIMEOUT = 3 * time.Minute
)

type ForecastActor struct {
	behavior actor.Behavior
	stash    *actorutil.Stash
	manager  *service.ProviderManager
	tracker  *service.AccuracyTracker
	site     provider.Site
	logger   *zap.Logger
}

type backgroundTaskResult struct {
	message any
	replyTo *actor.PID
}

func NewForecastActor(manager *service.ProviderManager, tracker *service.AccuracyTracker,
	site provider.Site, logger *zap.Logger) *ForecastActor {
	act := &ForecastActor{
		manager:  manager,
		tracker:  tracker,
		site:     site,
		behavior: actor.NewBehavior(),
		stash:    &actorutil.Stash{},
		logger:   actorutil.ActorLogger(domain.ACTOR_ID_FORECAST, logger),
	}
	act.behavior.Become(act.StartingReceive)
	return act
}

func (state *ForecastActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *ForecastActor) StartingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("forecast@starting started")
		state.behavior.Become(state.DefaultReceive)
		state.stash.UnstashAll(ctx)
	default:
		state.logger.Debug("forecast@starting stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *ForecastActor) DefaultReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthRequest:
		state.logger.Debug("forecast@default ActorHealthRequest")
		ctx.Respond(domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_FORECAST,
			Healthy: true,
			State:   "idle",
		})
	case domain.RunForecastRequest:
		state.logger.Debug("forecast@default RunForecastRequest", zap.String("date", msg.Date))
		sender := actorutil.ForRequest(msg).ReplyTo(ctx)

		actorutil.MapBackgroundTask(actorutil.NewBackgroundTask(ctx, func() (*domain.RunForecastResponse, error) {
			return state.runForecast(msg.Date)
		}), mapTaskResult[domain.RunForecastResponse](sender)).Recover(func(err error) backgroundTaskResult {
			return backgroundTaskResult{
				message: domain.RunForecastResponse{
					ActorResponseMixIn: domain.ActorResponseMixIn{
						ResponseError: err,
					},
				},
				replyTo: sender,
			}
		}).WithTimeout(FORECAST_RUN_TIMEOUT).PipeTo(ctx.Self())
		state.behavior.BecomeStacked(state.WaitingRun)
	case domain.ProviderTestRequest:
		state.logger.Debug("forecast@default ProviderTestRequest")
		sender := actorutil.ForRequest(msg).ReplyTo(ctx)

		actorutil.MapBackgroundTask(actorutil.NewBackgroundTask(ctx, func() (*domain.ProviderTestResponse, error) {
			return state.testProviders()
		}), mapTaskResult[domain.ProviderTestResponse](sender)).Recover(func(err error) backgroundTaskResult {
			return backgroundTaskResult{
				message: domain.ProviderTestResponse{
					ActorResponseMixIn: domain.ActorResponseMixIn{
						ResponseError: err,
					},
				},
				replyTo: sender,
			}
		}).WithTimeout(FORECAST_RUN_TIMEOUT).PipeTo(ctx.Self())
		state.behavior.BecomeStacked(state.WaitingRun)
	default:
		state.logger.Debug("forecast@default default recv", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

func (state *ForecastActor) WaitingRun(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case backgroundTaskResult:
		state.logger.Debug("forecast@waiting backgroundTaskResult", zap.String("type", fmt.Sprintf("%T", msg.message)))
		if msg.replyTo != nil {
			ctx.Send(msg.replyTo, msg.message)
		}
		state.behavior.UnbecomeStacked()
		state.stash.UnstashAll(ctx)
	default:
		state.logger.Debug("forecast@waiting stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

// runForecast evaluates all configured providers for the given date (empty
// means tomorrow), persists the outcome and returns the finished run. A total
// failure is reported through the response error while still carrying the
// run so callers can inspect the per-provider errors.
func (a *ForecastActor) runForecast(date string) (*domain.RunForecastResponse, error) {
	target, err := resolveDate(date, 1)
	if err != nil {
		return nil, err
	}
	request := a.site.Request(target)

	run, runErr := a.manager.Run(context.Background(), request)
	if run != nil {
		if err := a.tracker.RecordRun(context.Background(), run); err != nil {
			a.logger.Error("forecast: could not persist run", zap.Error(err))
		}
	}
	return &domain.RunForecastResponse{
		ActorResponseMixIn: domain.ActorResponseMixIn{
			ResponseError: runErr,
		},
		Run: run,
	}, nil
}

// testProviders probes every configured provider. Probes consume budget, so
// the result reflects what a real run would see right now.
func (a *ForecastActor) testProviders() (*domain.ProviderTestResponse, error) {
	probed := a.manager.TestConnections(context.Background())

	results := make([]domain.ProviderTestResult, 0, len(probed))
	for _, id := range a.manager.ProviderIds() {
		result := domain.ProviderTestResult{Provider: id, OK: true}
		if err := probed[id]; err != nil {
			result.OK = false
			result.Error = err.Error()
		}
		results = append(results, result)
	}
	return &domain.ProviderTestResponse{Results: results}, nil
}

// resolveDate parses a canonical day key, or applies dayOffset to today when
// the key is empty.
func resolveDate(date string, dayOffset int) (time.Time, error) {
	if date == "" {
		return time.Now().AddDate(0, 0, dayOffset), nil
	}
	return time.ParseInLocation(domain.DateFormat, date, time.Local)
}

func mapTaskResult[T any](sender *actor.PID) func(t *T) *backgroundTaskResult {
	return func(t *T) *backgroundTaskResult {
		return &backgroundTaskResult{
			message: *t,
			replyTo: sender,
		}
	}
}
