package actor

import (
	"testing"
	"time"

	"github.com/berfenger/forecast2mqtt/internal/core/domain"
	"github.com/berfenger/forecast2mqtt/internal/util"
	"github.com/berfenger/forecast2mqtt/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestMQTTActor(t *testing.T) {

	cfg := util.LoadTestConfig()

	logger := zap.Must(zap.NewDevelopment())

	as := actorutil.NewActorSystemWithZapLogger(logger)

	context := as.Root

	props := actor.PropsFromProducer(func() actor.Actor { return NewTestMQTTActor(&cfg, logger) })
	pid := context.Spawn(props)

	time.Sleep(1 * time.Second)

	msg := domain.ActorHealthRequest{}
	result, err := context.RequestFuture(pid, msg, 2*time.Second).Result()
	if err != nil {
		t.Error(err)
		return
	}
	resp, ok := result.(domain.ActorHealthResponse)
	assert.True(t, ok)
	assert.True(t, resp.Healthy)

	// publishes without a reply ref are fire and forget
	context.Send(pid, domain.PublishForecastRequest{})
	context.Send(pid, domain.PublishReconcileRequest{Date: "2025-10-14", ActualWh: 9800, Completed: 1})

	time.Sleep(500 * time.Millisecond)

	context.Stop(pid)

	time.Sleep(500 * time.Millisecond)

	as.Shutdown()
}
