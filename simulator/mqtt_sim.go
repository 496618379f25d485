package simulator

import (
	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/kilianp07/fluxgo/infra/mqtt"
)

// Connect opens a broker connection with the engine's MQTT settings.
func Connect(cfg mqtt.Config, clientID string) (paho.Client, error) {
	cfg.SetDefaults()
	cfg.ClientID = clientID
	opts, err := mqtt.NewClientOptions(cfg)
	if err != nil {
		return nil, err
	}
	opts.AutoReconnect = true
	cli := paho.NewClient(opts)
	if token := cli.Connect(); token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}
	return cli, nil
}
