package bus_test

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/cucumber/godog"

	"github.com/coremodular/imc/bus"
	"github.com/coremodular/imc/imcerr"
	"github.com/coremodular/imc/payload"
	"github.com/coremodular/imc/pqueue"
)

// imcBDDContext holds the state one scenario's steps thread through: the
// bus under test plus whatever the publish/subscribe/RPC steps recorded,
// reset between scenarios.
type imcBDDContext struct {
	mu sync.Mutex

	b   *bus.Bus
	sub *bus.Subscription

	receivedPayloads [][]byte
	callCount        int

	highCount int
	lowCount  int

	rpcID        uint32
	callErr      error
	futureState  string
	futureResult []byte
}

func (c *imcBDDContext) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.b = bus.New(bus.DefaultConfig())
	c.sub = nil
	c.receivedPayloads = nil
	c.callCount = 0
	c.highCount = 0
	c.lowCount = 0
	c.rpcID = 0
	c.callErr = nil
	c.futureState = ""
	c.futureResult = nil
}

func (c *imcBDDContext) aFreshIMCBus() error {
	c.reset()
	return nil
}

func (c *imcBDDContext) iSubscribeToTopicWithARecordingHandler(topic string) error {
	sub, err := c.b.Subscribe(topic, func(env *bus.Envelope) error {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.callCount++
		c.receivedPayloads = append(c.receivedPayloads, env.Payload.Bytes())
		return nil
	})
	c.sub = sub
	return err
}

func (c *imcBDDContext) iPublishNMessagesWithPayloadsThroughToTopic(n int, topic string) error {
	for i := 1; i <= n; i++ {
		buf := make([]byte, 8)
		binary.LittleEndian.PutUint64(buf, uint64(i))
		if _, err := c.b.Publish(topic, buf); err != nil {
			return err
		}
	}
	return nil
}

func (c *imcBDDContext) iPumpTheBusOnceWithAnUnlimitedBudget() error {
	c.b.Pump(0, nil)
	return nil
}

func (c *imcBDDContext) theHandlerShouldHaveBeenCalledNTimes(n int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.callCount != n {
		return fmt.Errorf("expected %d calls, got %d", n, c.callCount)
	}
	return nil
}

func (c *imcBDDContext) thePayloadsShouldHaveBeenDeliveredInOrderThrough(n int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.receivedPayloads) != n {
		return fmt.Errorf("expected %d payloads, got %d", n, len(c.receivedPayloads))
	}
	for i, p := range c.receivedPayloads {
		want := uint64(i + 1)
		got := binary.LittleEndian.Uint64(p)
		if got != want {
			return fmt.Errorf("payload %d: want %d, got %d", i, want, got)
		}
	}
	return nil
}

func (c *imcBDDContext) nMessagesShouldHaveBeenDropped(n int) error {
	stats := c.b.GetSubscriptionStats(c.sub)
	if int(stats.Dropped) != n {
		return fmt.Errorf("expected %d dropped, got %d", n, stats.Dropped)
	}
	return nil
}

func (c *imcBDDContext) iRegisterRPCWithAnEchoHandler(name string) error {
	id, err := c.b.RegisterRpc(name, func(ctx context.Context, rpcID uint32, request *payload.Payload, userData any) (*payload.Payload, error) {
		return payload.NewCopy(request.Bytes()), nil
	}, nil)
	c.rpcID = id
	return err
}

func (c *imcBDDContext) iCallRPCWithPayload(name, data string) error {
	fut, err := c.b.CallRpcByName(context.Background(), name, payload.NewCopy([]byte(data)))
	c.callErr = err
	if err != nil {
		return nil
	}
	c.futureState = fut.State().String()
	result, resErr := fut.GetResult()
	if resErr == nil {
		c.futureResult = result.Bytes()
	}
	fut.Release()
	return nil
}

func (c *imcBDDContext) theFutureShouldBeInStateREADY() error {
	if c.futureState != "READY" {
		return fmt.Errorf("expected READY, got %q (call err: %v)", c.futureState, c.callErr)
	}
	return nil
}

func (c *imcBDDContext) theFutureResultShouldEqual(want string) error {
	if string(c.futureResult) != want {
		return fmt.Errorf("expected result %q, got %q", want, c.futureResult)
	}
	return nil
}

func (c *imcBDDContext) theCallShouldFailWithRPCNotRegistered() error {
	if !errors.Is(c.callErr, imcerr.ErrRPCNotRegistered) {
		return fmt.Errorf("expected ErrRPCNotRegistered, got %v", c.callErr)
	}
	return nil
}

func (c *imcBDDContext) iSubscribeToTopicWithQueueDepthAndPolicyDropNewest(topic string, depth int) error {
	sub, err := c.b.SubscribeEx(topic, func(env *bus.Envelope) error {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.callCount++
		return nil
	}, bus.Options{
		MinPriority:  pqueue.Normal,
		QueueDepth:   depth,
		Backpressure: bus.DropNewest,
	})
	c.sub = sub
	return err
}

func (c *imcBDDContext) iPublishNMessagesWithPayloadsThroughToTopicWithoutPumping(n int, topic string) error {
	return c.iPublishNMessagesWithPayloadsThroughToTopic(n, topic)
}

func (c *imcBDDContext) iSubscribeToTopicWithAllPriorityBandsAllowedAndDepth(topic string, depth int) error {
	sub, err := c.b.SubscribeEx(topic, func(env *bus.Envelope) error {
		c.mu.Lock()
		defer c.mu.Unlock()
		if env.Priority == pqueue.Low {
			c.lowCount++
		} else {
			c.highCount++
		}
		return nil
	}, bus.Options{
		MinPriority:  pqueue.Low,
		QueueDepth:   depth,
		Backpressure: bus.DropNewest,
	})
	c.sub = sub
	return err
}

func (c *imcBDDContext) iPublishHIGHAndLOWMessageToRepeatedTimes(high int, topic string, cycles int) error {
	for cyc := 0; cyc < cycles; cyc++ {
		for i := 0; i < high; i++ {
			if _, err := c.b.PublishEx(topic, []byte{byte(i)}, pqueue.High, nil); err != nil {
				return err
			}
		}
		if _, err := c.b.PublishEx(topic, []byte{0xFF}, pqueue.Low, nil); err != nil {
			return err
		}
	}
	return nil
}

func (c *imcBDDContext) allLOWMessagesShouldHaveBeenDelivered(n int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lowCount != n {
		return fmt.Errorf("expected %d low messages, got %d", n, c.lowCount)
	}
	return nil
}

func (c *imcBDDContext) nHIGHMessagesShouldHaveBeenDelivered(n int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.highCount != n {
		return fmt.Errorf("expected %d high messages, got %d", n, c.highCount)
	}
	return nil
}

func TestIMCBusBDD(t *testing.T) {
	suite := godog.TestSuite{
		ScenarioInitializer: func(sc *godog.ScenarioContext) {
			ctx := &imcBDDContext{}

			sc.Given(`^a fresh IMC bus$`, ctx.aFreshIMCBus)

			sc.Given(`^I subscribe to topic "([^"]*)" with a recording handler$`, ctx.iSubscribeToTopicWithARecordingHandler)
			sc.When(`^I publish (\d+) messages with payloads \d+ through \d+ to "([^"]*)"$`, ctx.iPublishNMessagesWithPayloadsThroughToTopic)
			sc.When(`^I pump the bus once with an unlimited budget$`, ctx.iPumpTheBusOnceWithAnUnlimitedBudget)
			sc.Then(`^the handler should have been called (\d+) times$`, ctx.theHandlerShouldHaveBeenCalledNTimes)
			sc.Then(`^the payloads should have been delivered in order \d+ through (\d+)$`, ctx.thePayloadsShouldHaveBeenDeliveredInOrderThrough)
			sc.Then(`^(\d+) messages should have been dropped$`, ctx.nMessagesShouldHaveBeenDropped)

			sc.Given(`^I register RPC "([^"]*)" with an echo handler$`, ctx.iRegisterRPCWithAnEchoHandler)
			sc.When(`^I call RPC "([^"]*)" with payload "([^"]*)"$`, ctx.iCallRPCWithPayload)
			sc.Then(`^the future should be in state READY$`, ctx.theFutureShouldBeInStateREADY)
			sc.Then(`^the future result should equal "([^"]*)"$`, ctx.theFutureResultShouldEqual)
			sc.Then(`^the call should fail with rpc not registered$`, ctx.theCallShouldFailWithRPCNotRegistered)

			sc.Given(`^I subscribe to topic "([^"]*)" with queue depth (\d+) and policy DROP_NEWEST$`, ctx.iSubscribeToTopicWithQueueDepthAndPolicyDropNewest)
			sc.When(`^I publish (\d+) messages with payloads \d+ through \d+ to "([^"]*)" without pumping$`, ctx.iPublishNMessagesWithPayloadsThroughToTopicWithoutPumping)

			sc.Given(`^I subscribe to topic "([^"]*)" with all priority bands allowed and depth (\d+)$`, ctx.iSubscribeToTopicWithAllPriorityBandsAllowedAndDepth)
			sc.When(`^I publish (\d+) HIGH and 1 LOW message to "([^"]*)", repeated (\d+) times$`, ctx.iPublishHIGHAndLOWMessageToRepeatedTimes)
			sc.Then(`^all (\d+) LOW messages should have been delivered$`, ctx.allLOWMessagesShouldHaveBeenDelivered)
			sc.Then(`^(\d+) HIGH messages should have been delivered$`, ctx.nHIGHMessagesShouldHaveBeenDelivered)
		},
		Options: &godog.Options{
			Format: "pretty",
			Paths:  []string{"features"},
		},
	}

	if suite.Run() != 0 {
		t.Fatal("non-zero status returned, failed to run imc bus feature tests")
	}
}
