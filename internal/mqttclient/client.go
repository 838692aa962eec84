package mqttclient

import (
	"encoding/json"
	"strings"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
	"github.com/snarg/caption-engine/internal/transcribe"
)

// publishTimeout bounds how long a publish may wait for the broker. Events
// are best-effort and must never hold up a request.
const publishTimeout = 2 * time.Second

// Client publishes transcription summaries to an MQTT broker.
type Client struct {
	conn      mqtt.Client
	topic     string
	connected atomic.Bool
	published atomic.Int64
	dropped   atomic.Int64
	log       zerolog.Logger
}

type Options struct {
	BrokerURL   string
	ClientID    string
	TopicPrefix string
	Username    string
	Password    string
	Log         zerolog.Logger
}

func Connect(opts Options) (*Client, error) {
	c := &Client{
		topic: eventTopic(opts.TopicPrefix),
		log:   opts.Log,
	}

	clientOpts := mqtt.NewClientOptions().
		AddBroker(opts.BrokerURL).
		SetClientID(opts.ClientID).
		SetAutoReconnect(true).
		SetConnectRetryInterval(5 * time.Second).
		SetOrderMatters(false).
		SetOnConnectHandler(c.onConnect).
		SetConnectionLostHandler(c.onConnectionLost)

	if opts.Username != "" {
		clientOpts.SetUsername(opts.Username)
	}
	if opts.Password != "" {
		clientOpts.SetPassword(opts.Password)
	}

	c.conn = mqtt.NewClient(clientOpts)
	token := c.conn.Connect()
	token.Wait()
	if err := token.Error(); err != nil {
		return nil, err
	}

	return c, nil
}

// Topic returns the topic events are published to.
func (c *Client) Topic() string { return c.topic }

// PublishEvent sends ev as JSON (QoS 0, not retained). Failures are logged
// and counted, never returned. Its signature matches
// transcribe.EventPublishFunc.
func (c *Client) PublishEvent(ev transcribe.Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		c.dropped.Add(1)
		c.log.Warn().Err(err).Msg("failed to encode event")
		return
	}
	if !c.connected.Load() {
		c.dropped.Add(1)
		c.log.Debug().Str("request_id", ev.RequestID).Msg("mqtt disconnected, dropping event")
		return
	}

	token := c.conn.Publish(c.topic, 0, false, payload)
	if !token.WaitTimeout(publishTimeout) {
		c.dropped.Add(1)
		c.log.Warn().Str("topic", c.topic).Msg("mqtt publish timed out")
		return
	}
	if err := token.Error(); err != nil {
		c.dropped.Add(1)
		c.log.Warn().Err(err).Str("topic", c.topic).Msg("mqtt publish failed")
		return
	}
	c.published.Add(1)
}

func (c *Client) onConnect(_ mqtt.Client) {
	c.connected.Store(true)
	c.log.Info().Str("topic", c.topic).Msg("mqtt connected")
}

func (c *Client) onConnectionLost(_ mqtt.Client, err error) {
	c.connected.Store(false)
	c.log.Warn().Err(err).Msg("mqtt connection lost, will auto-reconnect")
}

func (c *Client) IsConnected() bool {
	return c.connected.Load()
}

func (c *Client) Close() {
	c.log.Info().
		Int64("published", c.published.Load()).
		Int64("dropped", c.dropped.Load()).
		Msg("disconnecting mqtt client")
	c.conn.Disconnect(1000)
}

func eventTopic(prefix string) string {
	prefix = strings.Trim(strings.TrimSpace(prefix), "/")
	if prefix == "" {
		prefix = "caption-engine"
	}
	return prefix + "/transcription"
}
