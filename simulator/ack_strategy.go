package simulator

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
)

var rng = rand.New(rand.NewSource(time.Now().UnixNano()))

// Publisher is the publishing side of an MQTT client.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
}

// AckStrategy defines how an inverter acknowledges commands.
type AckStrategy interface {
	Ack(ctx context.Context, pub Publisher, topic, commandID string) error
}

// AutoAck sends an ACK after an optional fixed delay.
type AutoAck struct {
	Delay time.Duration
}

func (a AutoAck) Ack(ctx context.Context, pub Publisher, topic, commandID string) error {
	if err := wait(ctx, a.Delay); err != nil {
		return err
	}
	return publishAck(pub, topic, commandID)
}

// RandomAck drops acknowledgments with the configured probability and
// waits for the specified delay before sending.
type RandomAck struct {
	Delay    time.Duration
	DropRate float64
}

func (r RandomAck) Ack(ctx context.Context, pub Publisher, topic, commandID string) error {
	if r.DropRate > 0 && rng.Float64() < r.DropRate {
		return nil
	}
	if err := wait(ctx, r.Delay); err != nil {
		return err
	}
	return publishAck(pub, topic, commandID)
}

func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func publishAck(pub Publisher, topic, commandID string) error {
	payload, err := json.Marshal(struct {
		CommandID string `json:"command_id"`
	}{CommandID: commandID})
	if err != nil {
		return err
	}
	token := pub.Publish(topic, 1, false, payload)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("ack publish timeout for %s", commandID)
	}
	return token.Error()
}
