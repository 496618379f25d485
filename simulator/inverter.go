package simulator

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/kilianp07/fluxgo/core/logger"
	"github.com/kilianp07/fluxgo/core/model"
	"github.com/kilianp07/fluxgo/infra/mqtt"
)

// Conn is the subset of an MQTT client the inverter needs.
type Conn interface {
	Publisher
	Subscribe(topic string, qos byte, callback paho.MessageHandler) paho.Token
}

// Inverter listens for commands on <prefix>/inverter/<id>/command and
// publishes the battery SOC on <prefix>/<soc topic> every Interval.
type Inverter struct {
	ID       string
	Prefix   string
	SOCTopic string
	Interval time.Duration
	LoadKW   float64
	Battery  *Battery
	Strategy AckStrategy
	Logger   logger.Logger

	acks chan string
}

func (v *Inverter) topic(parts ...string) string {
	return strings.TrimSuffix(v.Prefix, "/") + "/" + strings.Join(parts, "/")
}

// Run subscribes and simulates until ctx is done.
func (v *Inverter) Run(ctx context.Context, conn Conn) error {
	if v.Interval <= 0 {
		v.Interval = 10 * time.Second
	}
	if v.Strategy == nil {
		v.Strategy = AutoAck{}
	}
	v.acks = make(chan string, 50)
	go v.worker(ctx, conn)

	if token := conn.Subscribe(v.topic("inverter", v.ID, "command"), 1, v.onCommand); token.Wait() && token.Error() != nil {
		return token.Error()
	}
	v.publishSOC(conn)
	ticker := time.NewTicker(v.Interval)
	defer ticker.Stop()
	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			v.Battery.Advance(now.Sub(last), v.LoadKW)
			last = now
			v.publishSOC(conn)
		}
	}
}

func (v *Inverter) onCommand(_ paho.Client, msg paho.Message) {
	var m mqtt.CommandMessage
	if err := json.Unmarshal(msg.Payload(), &m); err != nil {
		v.logf("%s: decode command: %v", v.ID, err)
		return
	}
	mode, err := model.ParseOperationMode(m.Mode)
	if err != nil {
		v.logf("%s: command %s: %v", v.ID, m.CommandID, err)
		return
	}
	v.Battery.SetMode(mode)
	v.logf("%s: mode %s -> %s (%s)", v.ID, m.Previous, m.Mode, m.Reason)
	select {
	case v.acks <- m.CommandID:
	default:
		v.logf("%s: ack queue full, dropping command %s", v.ID, m.CommandID)
	}
}

func (v *Inverter) worker(ctx context.Context, pub Publisher) {
	for {
		select {
		case id := <-v.acks:
			if err := v.Strategy.Ack(ctx, pub, v.topic("inverter", v.ID, "ack"), id); err != nil {
				v.logf("%s: ack %s: %v", v.ID, id, err)
			}
		case <-ctx.Done():
			return
		}
	}
}

func (v *Inverter) publishSOC(pub Publisher) {
	payload, err := json.Marshal(struct {
		SOC float64 `json:"soc"`
		TS  int64   `json:"ts"`
	}{SOC: v.Battery.SOC(), TS: time.Now().Unix()})
	if err != nil {
		return
	}
	token := pub.Publish(v.topic(v.SOCTopic), 0, false, payload)
	if token.WaitTimeout(5*time.Second) && token.Error() != nil {
		v.logf("%s: publish soc: %v", v.ID, token.Error())
	}
}

func (v *Inverter) logf(format string, args ...any) {
	if v.Logger != nil {
		v.Logger.Infof(format, args...)
	}
}
