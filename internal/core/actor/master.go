package actor

import (
	"errors"
	"fmt"
	"log"
	"time"

	adactor "github.com/berfenger/forecast2mqtt/internal/adapter/actor"
	"github.com/berfenger/forecast2mqtt/internal/config"
	"github.com/berfenger/forecast2mqtt/internal/core/domain"
	. "github.com/berfenger/forecast2mqtt/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"go.uber.org/zap"
)

const (
	HEALTH_CHECK_TIMEOUT = 500 * time.Millisecond
	RUN_REQUEST_TIMEOUT  = 4 * time.Minute
	RECONCILE_TIMEOUT    = 1 * time.Minute
)

type ForecastActorProvider func() *adactor.ForecastActor

type AccuracyActorProvider func() *adactor.AccuracyActor

type MQTTActorProvider func() *adactor.MQTTActor

// MasterOfPuppetsActor supervises the forecast, accuracy and MQTT children,
// routes external requests to them and pushes finished work to the MQTT
// bridge.
type MasterOfPuppetsActor struct {
	config   config.Config
	behavior actor.Behavior
	stash    *Stash

	currentHealthCheck healthCheckResult
	respondTo          *actor.PID

	forecastActor *actor.PID
	accuracyActor *actor.PID
	mqttActor     *actor.PID

	forecastActorProvider ForecastActorProvider
	accuracyActorProvider AccuracyActorProvider
	mqttActorProvider     MQTTActorProvider
	logger                *zap.Logger
}

type healthCheckResult struct {
	forecastActorHealthy bool
	accuracyActorHealthy bool
	mqttActorHealthy     bool
	checksReceived       int
	respondTo            *actor.PID
}

func NewMasterOfPuppetsActor(config config.Config, forecastActorProvider ForecastActorProvider,
	accuracyActorProvider AccuracyActorProvider, mqttActorProvider MQTTActorProvider,
	logger *zap.Logger) *MasterOfPuppetsActor {
	act := &MasterOfPuppetsActor{
		config:                config,
		behavior:              actor.NewBehavior(),
		stash:                 &Stash{},
		logger:                ActorLogger(domain.ACTOR_ID_MASTER, logger),
		forecastActorProvider: forecastActorProvider,
		accuracyActorProvider: accuracyActorProvider,
		mqttActorProvider:     mqttActorProvider,
	}
	act.behavior.Become(act.StartingReceive)
	return act
}

func (state *MasterOfPuppetsActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *MasterOfPuppetsActor) StartingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("master@starting started")

		state.currentHealthCheck = healthCheckResult{}
		state.currentHealthCheck.reset()

		// start Forecast child
		forecastActorPID, err := state.startForecastActor(ctx)
		if err != nil {
			panic(err)
		}
		state.forecastActor = forecastActorPID

		// start Accuracy child
		accuracyActorPID, err := state.startAccuracyActor(ctx)
		if err != nil {
			panic(err)
		}
		state.accuracyActor = accuracyActorPID

		// start MQTT child
		mqttActorPID, err := state.startMQTTActor(ctx)
		if err != nil {
			panic(err)
		}
		state.mqttActor = mqttActorPID

		state.behavior.Become(state.DefaultReceive)
		state.stash.UnstashAll(ctx)
	default:
		state.logger.Debug("master@starting stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *MasterOfPuppetsActor) DefaultReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthRequest:
		state.logger.Debug("master@default ActorHealthRequest")
		state.currentHealthCheck.reset()
		state.currentHealthCheck.respondTo = ctx.Sender()
		// Forecast Actor Request
		PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.forecastActor, domain.ActorHealthRequest{}, HEALTH_CHECK_TIMEOUT), func(err error) any {
			return domain.ActorHealthResponse{
				Id:      domain.ACTOR_ID_FORECAST,
				Healthy: false,
			}
		})
		// Accuracy Actor Request
		PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.accuracyActor, domain.ActorHealthRequest{}, HEALTH_CHECK_TIMEOUT), func(err error) any {
			return domain.ActorHealthResponse{
				Id:      domain.ACTOR_ID_ACCURACY,
				Healthy: false,
			}
		})
		// MQTT Actor Request
		PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.mqttActor, domain.ActorHealthRequest{}, HEALTH_CHECK_TIMEOUT), func(err error) any {
			return domain.ActorHealthResponse{
				Id:      domain.ACTOR_ID_MQTT,
				Healthy: false,
			}
		})

		ctx.SetReceiveTimeout(1 * time.Second)

		state.behavior.BecomeStacked(state.HealthCheckReceive)
	case domain.RunForecastRequest:
		state.logger.Debug("master@default RunForecastRequest", zap.String("date", msg.Date))
		state.respondTo = ForRequest(msg).ReplyTo(ctx)
		PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.forecastActor, domain.RunForecastRequest{Date: msg.Date}, RUN_REQUEST_TIMEOUT), func(err error) any {
			return domain.RunForecastResponse{
				ActorResponseMixIn: domain.ActorResponseMixIn{
					ResponseError: err,
				},
			}
		})
		state.behavior.BecomeStacked(state.WaitingForecastReceive)
	case domain.ReconcileActualRequest:
		state.logger.Debug("master@default ReconcileActualRequest", zap.String("date", msg.Date))
		state.respondTo = ForRequest(msg).ReplyTo(ctx)
		PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.accuracyActor, domain.ReconcileActualRequest{
			Date:     msg.Date,
			ActualWh: msg.ActualWh,
		}, RECONCILE_TIMEOUT), func(err error) any {
			return domain.ReconcileActualResponse{
				ActorResponseMixIn: domain.ActorResponseMixIn{
					ResponseError: err,
				},
			}
		})
		state.behavior.BecomeStacked(state.WaitingReconcileReceive)
	case domain.CaptureBaselineRequest:
		state.logger.Debug("master@default CaptureBaselineRequest")
		ctx.Send(state.accuracyActor, msg)
	case domain.ProviderStatsRequest:
		state.logger.Debug("master@default ProviderStatsRequest")
		// accuracy actor replies straight to the original requester
		ctx.RequestWithCustomSender(state.accuracyActor, msg, ForRequest(msg).ReplyTo(ctx))
	case domain.ProviderTestRequest:
		state.logger.Debug("master@default ProviderTestRequest")
		// forecast actor replies straight to the original requester
		ctx.RequestWithCustomSender(state.forecastActor, msg, ForRequest(msg).ReplyTo(ctx))
	case adactor.ParsedCommand:
		// turn MQTT command into an internal request
		state.logger.Debug("master@default parsedCommand", zap.Any("command", msg.Command))
		if msg.Command != nil {
			cmd, err := ParsedMQTTCommandToCommand(*msg.Command)
			if err == nil && cmd != nil {
				ctx.Send(ctx.Self(), cmd)
			}
		}
	case *actor.Terminated:
		// if some actor fails on boot, terminate
		if msg.Who.Id == fmt.Sprintf("%s/%s", domain.ACTOR_ID_MASTER, domain.ACTOR_ID_FORECAST) {
			state.logger.Error("master@default forecast error")
			panic(errors.New("forecast terminated"))
		}
	default:
		state.logger.Debug("master@default stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *MasterOfPuppetsActor) WaitingForecastReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.RunForecastResponse:
		state.logger.Debug("master@waitingForecast RunForecastResponse", zap.Bool("error", msg.HasResponseError()))
		if state.respondTo != nil {
			ctx.Send(state.respondTo, msg)
			state.respondTo = nil
		}
		if msg.Run != nil {
			ctx.Send(state.mqttActor, domain.PublishForecastRequest{Run: msg.Run})
		}
		state.behavior.UnbecomeStacked()
		state.stash.UnstashAll(ctx)
	default:
		state.logger.Debug("master@waitingForecast stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *MasterOfPuppetsActor) WaitingReconcileReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ReconcileActualResponse:
		state.logger.Debug("master@waitingReconcile ReconcileActualResponse", zap.Bool("error", msg.HasResponseError()))
		if state.respondTo != nil {
			ctx.Send(state.respondTo, msg)
			state.respondTo = nil
		}
		if !msg.HasResponseError() {
			ctx.Send(state.mqttActor, domain.PublishReconcileRequest{
				Date:      msg.Date,
				ActualWh:  msg.ActualWh,
				Completed: msg.Completed,
			})
		}
		state.behavior.UnbecomeStacked()
		state.stash.UnstashAll(ctx)
	default:
		state.logger.Debug("master@waitingReconcile stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *MasterOfPuppetsActor) HealthCheckReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.ReceiveTimeout:
		// if some actor does not respond to healthCheck, assume not healthy
		state.currentHealthCheck.respond(ctx)
		state.behavior.UnbecomeStacked()
		state.stash.UnstashAll(ctx)
	case domain.ActorHealthResponse:
		state.logger.Debug("master@healthcheck ActorHealthResponse", zap.String("sender", msg.Id), zap.Bool("healthy", msg.Healthy))
		state.currentHealthCheck.checksReceived++
		if msg.Healthy {
			if msg.Id == domain.ACTOR_ID_FORECAST {
				state.currentHealthCheck.forecastActorHealthy = true
			} else if msg.Id == domain.ACTOR_ID_ACCURACY {
				state.currentHealthCheck.accuracyActorHealthy = true
			} else if msg.Id == domain.ACTOR_ID_MQTT {
				state.currentHealthCheck.mqttActorHealthy = true
			}
		}
		if state.currentHealthCheck.allReceived() {

			state.currentHealthCheck.respond(ctx)

			state.behavior.UnbecomeStacked()
			state.stash.UnstashAll(ctx)
		} else {
			ctx.SetReceiveTimeout(1 * time.Second)
		}
	default:
		state.logger.Debug("master@healthcheck stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *MasterOfPuppetsActor) startForecastActor(ctx actor.Context) (*actor.PID, error) {

	decider := func(reason interface{}) actor.Directive {
		log.Printf("handling failure for child. reason: %v", reason)
		return actor.RestartDirective
	}
	supervisor := actor.NewOneForOneStrategy(1, 10*time.Second, decider)

	forecastProps := actor.PropsFromProducer(func() actor.Actor {
		return state.forecastActorProvider()
	}, actor.WithSupervisor(supervisor))
	forecastActorPID, err := ctx.SpawnNamed(forecastProps, domain.ACTOR_ID_FORECAST)
	if err != nil {
		return nil, err
	}

	return forecastActorPID, nil
}

func (state *MasterOfPuppetsActor) startAccuracyActor(ctx actor.Context) (*actor.PID, error) {

	decider := func(reason interface{}) actor.Directive {
		log.Printf("handling failure for child. reason: %v", reason)
		return actor.RestartDirective
	}
	supervisor := actor.NewOneForOneStrategy(1, 10*time.Second, decider)

	accuracyProps := actor.PropsFromProducer(func() actor.Actor {
		return state.accuracyActorProvider()
	}, actor.WithSupervisor(supervisor))
	accuracyActorPID, err := ctx.SpawnNamed(accuracyProps, domain.ACTOR_ID_ACCURACY)
	if err != nil {
		return nil, err
	}

	return accuracyActorPID, nil
}

func (state *MasterOfPuppetsActor) startMQTTActor(ctx actor.Context) (*actor.PID, error) {

	supervisor := actor.NewExponentialBackoffStrategy(10*time.Second, 1*time.Second)

	mqttProps := actor.PropsFromProducer(func() actor.Actor {
		return state.mqttActorProvider()
	}, actor.WithSupervisor(supervisor))
	mqttActorPID, err := ctx.SpawnNamed(mqttProps, domain.ACTOR_ID_MQTT)
	if err != nil {
		return nil, err
	}

	return mqttActorPID, nil
}

func (state *healthCheckResult) reset() {
	state.forecastActorHealthy = false
	state.accuracyActorHealthy = false
	state.mqttActorHealthy = false
	state.checksReceived = 0
}

func (state *healthCheckResult) allReceived() bool {
	return state.checksReceived == 3
}

func (state *healthCheckResult) allHealthy() bool {
	return state.forecastActorHealthy && state.accuracyActorHealthy && state.mqttActorHealthy
}

func (state *healthCheckResult) respond(ctx actor.Context) {
	resp := domain.ActorHealthResponse{
		Id:      domain.ACTOR_ID_MASTER,
		Healthy: state.allHealthy(),
	}
	if state.respondTo != nil {
		ctx.Send(state.respondTo, resp)
	}
}
