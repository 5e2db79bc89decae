package actor

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/berfenger/forecast2mqtt/internal/config"
	"github.com/berfenger/forecast2mqtt/internal/core/domain"
	"github.com/berfenger/forecast2mqtt/internal/mqtt"
	"github.com/berfenger/forecast2mqtt/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

type MQTTActor struct {
	config   *config.Config
	behavior actor.Behavior
	stash    *actorutil.Stash
	client   *mqtt.MQTTClient
	logger   *zap.Logger
}

type MQTTConnected struct {
}

type MQTTSubscribed struct {
}

type MQTTConnectionLost struct {
	Error error
}

type publishResult struct {
	ReplyTo *actor.PID
	Message any
	Error   error
}

type ParsedCommand struct {
	Command *mqtt.ParsedMQTTCommand
}

// forecastStatePayload is the JSON document published to the forecast state
// topic after every successful run.
type forecastStatePayload struct {
	Date         string  `json:"date"`
	RunID        string  `json:"run_id"`
	Provider     string  `json:"provider"`
	EnergyWh     float64 `json:"energy_wh"`
	P10Wh        float64 `json:"p10_wh,omitempty"`
	P90Wh        float64 `json:"p90_wh,omitempty"`
	FallbackUsed bool    `json:"fallback_used"`
}

type accuracyStatePayload struct {
	Date      string  `json:"date"`
	ActualWh  float64 `json:"actual_wh"`
	Completed int     `json:"completed"`
}

func NewMQTTActor(config *config.Config, logger *zap.Logger) *MQTTActor {
	act := &MQTTActor{
		config:   config,
		behavior: actor.NewBehavior(),
		stash:    &actorutil.Stash{},
		logger:   actorutil.ActorLogger(domain.ACTOR_ID_MQTT, logger),
	}
	act.behavior.Become(act.StartingReceive)
	return act
}

func (state *MQTTActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *MQTTActor) StartingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("mqtt@starting started")

		// create MQTT client
		state.client = mqtt.CreateMQTTClient(state.config, mqtt.OptsFromConfig(state.config), func(_ pahomqtt.Client) {
		}, func(_ pahomqtt.Client, err error) {
			ctx.Send(ctx.Self(), MQTTConnectionLost{Error: err})
		})

		// connect to MQTT server
		state.client.Connect(func(err error) {
			if err != nil {
				ctx.Send(ctx.Self(), MQTTConnectionLost{Error: err})
			} else {
				ctx.Send(ctx.Self(), MQTTConnected{})
			}
		}, 10*time.Second)

	case MQTTConnected:
		state.logger.Debug("mqtt@starting connected")

		state.client.Publish(state.client.BridgeStateTopic(), mqtt.MQTT_PAYLOAD_ONLINE, 0, true, func(error) {}, 500*time.Millisecond)

		// subscribe to MQTT command topic
		state.client.SubscribeToCommandTopic(func(c pahomqtt.Client, m pahomqtt.Message) {
			cmd, err := state.client.ParseMQTTCommand(m)
			if err == nil && cmd != nil {
				ctx.Send(ctx.Self(), ParsedCommand{Command: cmd})
			}
		}, func(err error) {
			if err != nil {
				ctx.Send(ctx.Self(), MQTTConnectionLost{Error: err})
			} else {
				ctx.Send(ctx.Self(), MQTTSubscribed{})
			}
		}, 1*time.Second)
	case MQTTSubscribed:
		// init completed, transition to default state
		state.logger.Debug("mqtt@starting subscribed")
		state.behavior.Become(state.DefaultReceive)
		state.stash.UnstashAll(ctx)
	case MQTTConnectionLost:
		// if connection lost, stop actor and let supervisor decide
		state.logger.Error("mqtt@starting connection lost", zap.Error(msg.Error))
		panic(msg.Error)
	case *actor.Restarting:
		state.stop()
	default:
		state.logger.Debug("mqtt@starting stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *MQTTActor) DefaultReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Restarting:
		state.stop()
	case *actor.Stopping:
		state.stop()
	case domain.ActorHealthRequest:
		state.logger.Debug("mqtt@default ActorHealthRequest")
		// respond health check request
		ctx.Respond(domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_MQTT,
			Healthy: true,
			State:   "idle",
		})
	case ParsedCommand:
		// route command to parent
		state.logger.Debug("mqtt@default parsedCommand", zap.Any("command", msg.Command))
		ctx.Send(ctx.Parent(), msg)
	case domain.PublishForecastRequest:
		state.logger.Debug("mqtt@default PublishForecastRequest")
		state.publishForecast(ctx, msg.Run, actorutil.ForRequest(msg).ReplyTo(ctx))
	case domain.PublishReconcileRequest:
		state.logger.Debug("mqtt@default PublishReconcileRequest")
		state.publishReconcile(ctx, msg, actorutil.ForRequest(msg).ReplyTo(ctx))
	case MQTTConnectionLost:
		// if connection lost, stop actor and let supervisor decide
		state.logger.Error("mqtt@default connection lost", zap.Error(msg.Error))
		panic(msg.Error)
	default:
		state.logger.Debug("mqtt@default stash", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

// publishForecast pushes the decision value to the forecast state topic and
// the disagreement statistics to the comparison state topic. A run with no
// decision still publishes the comparison.
func (state *MQTTActor) publishForecast(ctx actor.Context, run *domain.ForecastRun, replyTo *actor.PID) {
	if run == nil {
		respondIfAsked(ctx, replyTo, domain.PublishForecastResponse{})
		return
	}

	if comparison, err := json.Marshal(run.Comparison); err == nil {
		state.client.Publish(state.client.ComparisonStateTopic(), comparison, 0, true, func(error) {}, 1*time.Second)
	} else {
		state.logger.Error("mqtt@publish could not encode comparison", zap.Error(err))
	}

	if run.Decision == nil {
		respondIfAsked(ctx, replyTo, domain.PublishForecastResponse{})
		return
	}
	payload, err := json.Marshal(forecastStatePayload{
		Date:         run.Date,
		RunID:        run.RunID,
		Provider:     run.Decision.Provider,
		EnergyWh:     run.Decision.EnergyWh,
		P10Wh:        run.Decision.P10Wh,
		P90Wh:        run.Decision.P90Wh,
		FallbackUsed: run.FallbackUsed,
	})
	if err != nil {
		state.logger.Error("mqtt@publish could not encode forecast", zap.Error(err))
		respondIfAsked(ctx, replyTo, domain.PublishForecastResponse{
			ActorResponseMixIn: domain.ActorResponseMixIn{
				ResponseError: err,
			},
		})
		return
	}
	state.publishMessage(ctx, state.client.ForecastStateTopic(), payload, true,
		domain.PublishForecastResponse{}, replyTo)
}

func (state *MQTTActor) publishReconcile(ctx actor.Context, msg domain.PublishReconcileRequest, replyTo *actor.PID) {
	payload, err := json.Marshal(accuracyStatePayload{
		Date:      msg.Date,
		ActualWh:  msg.ActualWh,
		Completed: msg.Completed,
	})
	if err != nil {
		state.logger.Error("mqtt@publish could not encode reconciliation", zap.Error(err))
		respondIfAsked(ctx, replyTo, domain.PublishReconcileResponse{
			ActorResponseMixIn: domain.ActorResponseMixIn{
				ResponseError: err,
			},
		})
		return
	}
	state.publishMessage(ctx, state.client.AccuracyStateTopic(), payload, true,
		domain.PublishReconcileResponse{}, replyTo)
}

func (state *MQTTActor) publishMessage(ctx actor.Context, topic string, payload []byte, retain bool,
	response any, replyTo *actor.PID) {
	state.logger.Sugar().Debugf("mqtt@publish: message publish %s => %s", topic, string(payload))
	state.client.Publish(topic, payload, 1, retain, func(err error) {
		ctx.Send(ctx.Self(), publishResult{ReplyTo: replyTo, Message: response, Error: err})
	}, 5*time.Second)
	state.behavior.BecomeStacked(state.PublishResultReceive)
}

func (state *MQTTActor) PublishResultReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case publishResult:
		// log error and return to default state
		if msg.Error != nil {
			state.logger.Error("mqtt@publishing could not publish a message", zap.Error(msg.Error))
		}
		if msg.ReplyTo != nil {
			ctx.Send(msg.ReplyTo, withResponseError(msg.Message, msg.Error))
		}
		state.behavior.UnbecomeStacked()
		state.stash.UnstashOldest(ctx)
	default:
		state.logger.Debug("mqtt@publishing stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func respondIfAsked(ctx actor.Context, replyTo *actor.PID, response any) {
	if replyTo != nil {
		ctx.Send(replyTo, response)
	}
}

func withResponseError(response any, err error) any {
	if err == nil {
		return response
	}
	switch response.(type) {
	case domain.PublishForecastResponse:
		return domain.PublishForecastResponse{
			ActorResponseMixIn: domain.ActorResponseMixIn{
				ResponseError: err,
			},
		}
	case domain.PublishReconcileResponse:
		return domain.PublishReconcileResponse{
			ActorResponseMixIn: domain.ActorResponseMixIn{
				ResponseError: err,
			},
		}
	default:
		return response
	}
}

func (state *MQTTActor) stop() {
	state.logger.Debug("mqtt: disconnect")
	if state.client != nil {
		state.client.Publish(state.client.BridgeStateTopic(), mqtt.MQTT_PAYLOAD_OFFLINE, 0, true, func(error) {}, 500*time.Millisecond)
		state.client.Disconnect(500 * time.Millisecond)
	}
}

// Dummy actor
func NewTestMQTTActor(config *config.Config, logger *zap.Logger) *MQTTActor {
	act := &MQTTActor{
		config:   config,
		behavior: actor.NewBehavior(),
		stash:    &actorutil.Stash{},
		logger:   actorutil.ActorLogger(domain.ACTOR_ID_MQTT, logger),
	}
	act.behavior.Become(act.DummyReceive)
	return act
}

func (state *MQTTActor) DummyReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.client = mqtt.CreateMQTTClient(state.config, mqtt.OptsFromConfig(state.config), nil, nil)
	case domain.ActorHealthRequest:
		state.logger.Debug("mqtt@default ActorHealthRequest")
		// respond health check request
		ctx.Respond(domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_MQTT,
			Healthy: true,
			State:   "idle",
		})
	case domain.PublishForecastRequest:
		if msg.ReplyToRef != nil {
			ctx.Respond(domain.PublishForecastResponse{})
		}
	case domain.PublishReconcileRequest:
		if msg.ReplyToRef != nil {
			ctx.Respond(domain.PublishReconcileResponse{})
		}
	}
}
