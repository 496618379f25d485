package mqtt

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/kilianp07/fluxgo/core/governor"
	"github.com/kilianp07/fluxgo/core/model"
	"github.com/kilianp07/fluxgo/core/monitoring"
	"github.com/kilianp07/fluxgo/infra/logger"
)

// ErrAckTimeout is returned when an inverter does not acknowledge a command in time.
var ErrAckTimeout = errors.New("ack timeout")

// Config defines the connection parameters for the Paho MQTT client.
type Config struct {
	Broker      string `json:"broker"`
	ClientID    string `json:"client_id"`
	Username    string `json:"username"`
	Password    string `json:"password"`
	TopicPrefix string `json:"topic_prefix"`
	UseTLS      bool   `json:"use_tls"`
	ClientCert  string `json:"client_cert"`
	ClientKey   string `json:"client_key"`
	CABundle    string `json:"ca_bundle"`
	AuthMethod  string `json:"auth_method"`
	// QoS per message kind: command, schedule, ack, soc. Unset kinds use 1.
	QoS        map[string]byte `json:"qos"`
	LWTTopic   string          `json:"lwt_topic"`
	LWTPayload string          `json:"lwt_payload"`
	LWTQoS     byte            `json:"lwt_qos"`
	LWTRetain  bool            `json:"lwt_retain"`
	MaxRetries int             `json:"max_retries"`
	BackoffMS  int             `json:"backoff_ms"`
	// AckTimeoutMS makes Command wait for the inverter's ack. Zero disables.
	AckTimeoutMS int         `json:"ack_timeout_ms"`
	TLSConfig    *tls.Config `json:"-"`
}

// SetDefaults fills unset fields.
func (c *Config) SetDefaults() {
	if c.TopicPrefix == "" {
		c.TopicPrefix = "fluxgo"
	}
	if c.ClientID == "" {
		c.ClientID = "fluxgo"
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.BackoffMS == 0 {
		c.BackoffMS = 100
	}
}

// Validate checks mandatory fields.
func (c Config) Validate() error {
	if c.Broker == "" {
		return fmt.Errorf("mqtt: broker is required")
	}
	if c.MaxRetries < 0 || c.BackoffMS < 0 || c.AckTimeoutMS < 0 {
		return fmt.Errorf("mqtt: retry settings must not be negative")
	}
	return nil
}

func (c Config) qos(kind string) byte {
	if q, ok := c.QoS[kind]; ok {
		return q
	}
	return 1
}

type pahoClient interface {
	IsConnected() bool
	Connect() paho.Token
	Disconnect(quiesce uint)
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	Subscribe(topic string, qos byte, callback paho.MessageHandler) paho.Token
}

// CommandMessage is the payload published to an inverter command topic.
type CommandMessage struct {
	CommandID  string `json:"command_id"`
	Inverter   string `json:"inverter"`
	Mode       string `json:"mode"`
	Previous   string `json:"previous"`
	DecisionID string `json:"decision_id,omitempty"`
	Reason     string `json:"reason"`
	Timestamp  int64  `json:"timestamp"`
}

// Client publishes schedules and inverter commands and tracks their acks.
// It implements engine.Executor and engine.Connectivity.
type Client struct {
	cli pahoClient
	cfg Config

	mu       sync.Mutex
	ackChans map[string]chan struct{}
	logger   logger.Logger
}

var newMQTTClient = func(opts *paho.ClientOptions) pahoClient {
	return paho.NewClient(opts)
}

// NewClient connects to the MQTT broker and subscribes to the ack topic.
func NewClient(cfg Config, log logger.Logger) (*Client, error) {
	cfg.SetDefaults()
	opts, err := NewClientOptions(cfg)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.New("mqtt_client")
	}
	c := &Client{cfg: cfg, ackChans: make(map[string]chan struct{}), logger: log}

	opts.OnConnect = func(pc paho.Client) {
		log.Infof("MQTT connected to %s", cfg.Broker)
		if token := pc.Subscribe(c.topic("inverter", "+", "ack"), cfg.qos("ack"), c.onAck); token.Wait() && token.Error() != nil {
			log.Errorf("subscribe error: %v", token.Error())
		}
	}
	opts.OnConnectionLost = func(_ paho.Client, err error) {
		log.Errorf("connection lost: %v", err)
	}
	opts.OnReconnecting = func(_ paho.Client, _ *paho.ClientOptions) {
		log.Warnf("reconnecting to MQTT broker")
	}
	pc := newMQTTClient(opts)
	if token := pc.Connect(); token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}
	c.cli = pc
	return c, nil
}

// NewClientOptions builds mqtt client options from Config.
func NewClientOptions(cfg Config) (*paho.ClientOptions, error) {
	opts := paho.NewClientOptions().AddBroker(cfg.Broker).SetClientID(cfg.ClientID)
	opts.AutoReconnect = true
	if cfg.AuthMethod == "username_password" || cfg.AuthMethod == "both" || cfg.AuthMethod == "" {
		if cfg.Username != "" {
			opts.SetUsername(cfg.Username)
		}
		if cfg.Password != "" {
			opts.SetPassword(cfg.Password)
		}
	}
	if cfg.UseTLS {
		tlsCfg, err := cfg.LoadTLSConfig()
		if err != nil {
			return nil, err
		}
		opts.SetTLSConfig(tlsCfg)
	}
	if cfg.LWTTopic != "" {
		opts.SetWill(cfg.LWTTopic, cfg.LWTPayload, cfg.LWTQoS, cfg.LWTRetain)
	}
	return opts, nil
}

// LoadTLSConfig loads the TLS configuration from the file paths in the config.
func (c Config) LoadTLSConfig() (*tls.Config, error) {
	if c.TLSConfig != nil {
		return c.TLSConfig, nil
	}
	if c.ClientCert == "" || c.ClientKey == "" || c.CABundle == "" {
		return nil, fmt.Errorf("tls config requires client_cert, client_key and ca_bundle")
	}
	cert, err := tls.LoadX509KeyPair(c.ClientCert, c.ClientKey)
	if err != nil {
		return nil, fmt.Errorf("load cert: %w", err)
	}
	caBytes, err := os.ReadFile(c.CABundle)
	if err != nil {
		return nil, fmt.Errorf("read ca: %w", err)
	}
	pool := x509.NewCertPool()
	pool.AppendCertsFromPEM(caBytes)
	cfg := &tls.Config{Certificates: []tls.Certificate{cert}, RootCAs: pool, MinVersion: tls.VersionTLS12}
	return cfg, nil
}

func (c *Client) topic(parts ...string) string {
	return strings.TrimSuffix(c.cfg.TopicPrefix, "/") + "/" + strings.Join(parts, "/")
}

func (c *Client) onAck(_ paho.Client, msg paho.Message) {
	var m struct {
		CommandID string `json:"command_id"`
	}
	if err := json.Unmarshal(msg.Payload(), &m); err != nil {
		c.logger.Errorf("failed to decode ack: %v", err)
		return
	}
	c.mu.Lock()
	ch, ok := c.ackChans[m.CommandID]
	if ok {
		select {
		case ch <- struct{}{}:
		default:
		}
		c.logger.Infof("received ack %s", m.CommandID)
	}
	c.mu.Unlock()
}

// Publish sends the schedule as a retained message so late subscribers see
// the current plan.
func (c *Client) Publish(ctx context.Context, s model.Schedule) error {
	payload, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return c.publish(ctx, c.topic("schedule"), c.cfg.qos("schedule"), true, payload)
}

// Command publishes cmd to the inverter and, for a master, to each of its
// slaves with the same command id.
func (c *Client) Command(ctx context.Context, cmd governor.Command) error {
	targets := append([]string{cmd.Inverter}, cmd.Slaves...)
	var wait []string
	for _, id := range targets {
		payload, err := json.Marshal(CommandMessage{
			CommandID:  cmd.ID,
			Inverter:   id,
			Mode:       cmd.Mode.String(),
			Previous:   cmd.Previous.String(),
			DecisionID: cmd.DecisionID,
			Reason:     cmd.Reason,
			Timestamp:  cmd.IssuedAt.UnixMilli(),
		})
		if err != nil {
			return err
		}
		if c.cfg.AckTimeoutMS > 0 && id == cmd.Inverter {
			c.track(cmd.ID)
			wait = append(wait, cmd.ID)
		}
		if err := c.publish(ctx, c.topic("inverter", id, "command"), c.cfg.qos("command"), false, payload); err != nil {
			c.untrack(cmd.ID)
			monitoring.CaptureException(err, map[string]string{"inverter": id, "command_id": cmd.ID})
			return fmt.Errorf("command %s to %s: %w", cmd.ID, id, err)
		}
		c.logger.Infof("sent %s command %s to %s", cmd.Mode, cmd.ID, id)
	}
	for _, id := range wait {
		if err := c.WaitForAck(ctx, id, time.Duration(c.cfg.AckTimeoutMS)*time.Millisecond); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) publish(ctx context.Context, topic string, qos byte, retained bool, payload []byte) error {
	attempt := 0
	op := func() error {
		attempt++
		token := c.cli.Publish(topic, qos, retained, payload)
		token.Wait()
		if err := token.Error(); err != nil {
			c.logger.Errorf("publish attempt %d to %s failed: %v", attempt, topic, err)
			return err
		}
		return nil
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Duration(c.cfg.BackoffMS) * time.Millisecond
	return backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.cfg.MaxRetries)), ctx))
}

func (c *Client) track(id string) {
	c.mu.Lock()
	c.ackChans[id] = make(chan struct{}, 1)
	c.mu.Unlock()
}

func (c *Client) untrack(id string) {
	c.mu.Lock()
	delete(c.ackChans, id)
	c.mu.Unlock()
}

// WaitForAck blocks until an ack for commandID arrives, the timeout expires
// or ctx is done.
func (c *Client) WaitForAck(ctx context.Context, commandID string, timeout time.Duration) error {
	c.mu.Lock()
	ch := c.ackChans[commandID]
	c.mu.Unlock()
	if ch == nil {
		return fmt.Errorf("unknown command %s", commandID)
	}
	defer c.untrack(commandID)

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-ch:
		return nil
	case <-timer.C:
		return fmt.Errorf("command %s: %w", commandID, ErrAckTimeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe registers fn for messages on topic, relative to the prefix.
func (c *Client) Subscribe(topic, kind string, fn func(topic string, payload []byte)) error {
	token := c.cli.Subscribe(c.topic(topic), c.cfg.qos(kind), func(_ paho.Client, msg paho.Message) {
		fn(msg.Topic(), msg.Payload())
	})
	token.Wait()
	return token.Error()
}

// Connected reports whether the broker link is up.
func (c *Client) Connected() bool {
	return c.cli != nil && c.cli.IsConnected()
}

// Disconnect gracefully closes the MQTT connection.
func (c *Client) Disconnect() {
	if c.cli != nil && c.cli.IsConnected() {
		c.cli.Disconnect(250)
	}
}
