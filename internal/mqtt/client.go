// Package mqtt publishes gateway presence and delivery counters to an MQTT
// broker, optionally with Home Assistant discovery.
package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"smart-roll-call/internal/config"
	"smart-roll-call/internal/core"
)

// Controller handles the commands accepted over MQTT.
type Controller interface {
	ResyncClock(ctx context.Context) error
	RestartAP(ctx context.Context) error
}

// broker is the subset of mqtt.Client used here.
type broker interface {
	Connect() mqtt.Token
	Disconnect(quiesce uint)
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token
	IsConnected() bool
}

// Client relays bus events to the broker.
type Client struct {
	client broker
	cfg    config.MQTTConfig
	prefix string
	bus    *core.EventBus
	state  *core.State
	ctrl   Controller
	logger *slog.Logger
}

// NewClient builds a client. It returns nil when MQTT is disabled; every
// method is safe to call on a nil *Client.
func NewClient(cfg config.MQTTConfig, bus *core.EventBus, state *core.State, ctrl Controller, logger *slog.Logger) *Client {
	if !cfg.Enabled {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}

	prefix := strings.TrimSuffix(cfg.TopicPrefix, "/")

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)

	opts.SetKeepAlive(10 * time.Second)
	opts.SetPingTimeout(5 * time.Second)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(time.Minute)
	// The broker may live on the attendance server, which is only
	// reachable once the uplink is up.
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetOrderMatters(false)
	opts.SetWill(prefix+"/availability", "offline", 1, true)

	c := &Client{
		cfg:    cfg,
		prefix: prefix,
		bus:    bus,
		state:  state,
		ctrl:   ctrl,
		logger: logger,
	}

	opts.SetOnConnectHandler(func(mqtt.Client) { c.onConnect() })
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn("mqtt connection lost, retrying in background", "error", err)
	})
	opts.SetReconnectingHandler(func(mqtt.Client, *mqtt.ClientOptions) {
		logger.Debug("mqtt reconnecting", "broker", cfg.Broker)
	})

	c.client = mqtt.NewClient(opts)
	return c
}

// Connect starts the connection loop. With ConnectRetry an error here means
// a configuration problem rather than an unreachable broker.
func (c *Client) Connect() error {
	if c == nil {
		return nil
	}
	c.logger.Info("mqtt connecting", "broker", c.cfg.Broker)

	token := c.client.Connect()
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("mqtt connect: %w", token.Error())
	}
	return nil
}

// Run relays bus events until ctx is cancelled. It blocks.
func (c *Client) Run(ctx context.Context) {
	if c == nil || c.bus == nil {
		return
	}
	types := []core.EventType{
		core.ClientJoinedEvent,
		core.ClientLeftEvent,
		core.ReportDeliveredEvent,
		core.ReportFailedEvent,
		core.UplinkChangedEvent,
		core.APChangedEvent,
	}
	sub := c.bus.Subscribe(types...)
	defer c.bus.Unsubscribe(sub, types...)

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-sub:
			c.handleEvent(ev)
		}
	}
}

func (c *Client) handleEvent(ev core.Event) {
	switch ev.Type {
	case core.ClientJoinedEvent:
		p, _ := ev.Payload.(core.ClientPayload)
		c.Publish("clients/joined", p.MAC, false)
		c.Publish("clients/count", p.Count, true)
	case core.ClientLeftEvent:
		p, _ := ev.Payload.(core.ClientPayload)
		c.Publish("clients/count", p.Count, true)
	case core.ReportDeliveredEvent, core.ReportFailedEvent:
		c.publishReportState()
	case core.UplinkChangedEvent:
		p, _ := ev.Payload.(core.LinkPayload)
		c.Publish("link/uplink", upDown(p.Up), true)
	case core.APChangedEvent:
		p, _ := ev.Payload.(core.LinkPayload)
		c.Publish("link/ap", upDown(p.Up), true)
	}
}

// reportState is the retained JSON document on reports/state.
type reportState struct {
	Delivered int `json:"delivered"`
	Rejected  int `json:"rejected"`
	Failed    int `json:"failed"`
}

func (c *Client) publishReportState() {
	if c.state == nil {
		return
	}
	snap := c.state.Clone()
	data, err := json.Marshal(reportState{
		Delivered: snap.Delivered,
		Rejected:  snap.Rejected,
		Failed:    snap.Failed,
	})
	if err != nil {
		c.logger.Error("encode report state", "error", err)
		return
	}
	c.Publish("reports/state", data, true)
}

// Disconnect publishes offline and closes the connection.
func (c *Client) Disconnect() {
	if c == nil || !c.client.IsConnected() {
		return
	}
	c.logger.Info("mqtt disconnecting")

	token := c.client.Publish(c.prefix+"/availability", 0, true, "offline")
	if token.WaitTimeout(2 * time.Second) {
		if token.Error() != nil {
			c.logger.Warn("failed to publish offline status", "error", token.Error())
		}
	} else {
		c.logger.Warn("timed out publishing offline status")
	}

	c.client.Disconnect(250)
}

// Publish sends payload to <prefix>/<subtopic>. []byte payloads are sent
// as-is; anything else is formatted with %v. It does not block.
func (c *Client) Publish(subtopic string, payload interface{}, retained bool) {
	if c == nil || !c.client.IsConnected() {
		return
	}

	topic := c.prefix + "/" + subtopic
	var msg interface{}
	switch p := payload.(type) {
	case []byte:
		msg = p
	default:
		msg = fmt.Sprintf("%v", p)
	}

	token := c.client.Publish(topic, 0, retained, msg)
	go func() {
		if token.WaitTimeout(5 * time.Second) {
			if token.Error() != nil {
				c.logger.Warn("mqtt publish failed", "topic", topic, "error", token.Error())
			}
		} else {
			c.logger.Warn("mqtt publish timed out", "topic", topic)
		}
	}()
}

func (c *Client) onConnect() {
	c.logger.Info("mqtt connected", "broker", c.cfg.Broker)

	topics := map[string]func([]byte){
		"clock/sync": c.handleClockSync,
		"ap/restart": c.handleAPRestart,
	}
	for sub, handler := range topics {
		topic := c.prefix + "/" + sub
		h := handler
		cb := func(_ mqtt.Client, msg mqtt.Message) { h(msg.Payload()) }
		if token := c.client.Subscribe(topic, 1, cb); token.Wait() && token.Error() != nil {
			c.logger.Warn("mqtt subscribe failed", "topic", topic, "error", token.Error())
		} else {
			c.logger.Debug("mqtt subscribed", "topic", topic)
		}
	}

	// onConnect runs on paho's event goroutine; publish from our own.
	go func() {
		c.Publish("availability", "online", true)
		if c.state != nil {
			c.Publish("clients/count", c.state.Clone().Clients, true)
			c.publishReportState()
		}
		if c.cfg.HADiscoveryEnabled {
			c.PublishHADiscovery()
		}
	}()
}

func (c *Client) handleClockSync([]byte) {
	if c.ctrl == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := c.ctrl.ResyncClock(ctx); err != nil {
		c.logger.Warn("clock sync requested over mqtt failed", "error", err)
	}
}

func (c *Client) handleAPRestart(payload []byte) {
	if c.ctrl == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	c.logger.Info("access point restart requested over mqtt", "reason", string(payload))
	if err := c.ctrl.RestartAP(ctx); err != nil {
		c.logger.Warn("access point restart failed", "error", err)
	}
}

// discoverySensor is one Home Assistant sensor.
type discoverySensor struct {
	key           string
	name          string
	icon          string
	stateTopic    string
	valueTemplate string
}

// PublishHADiscovery announces the gateway's sensors to Home Assistant.
func (c *Client) PublishHADiscovery() {
	if c == nil {
		return
	}
	safeID := sanitizeID(c.cfg.ClientID)

	sensors := []discoverySensor{
		{"clients", "Connected clients", "mdi:account-multiple", "clients/count", ""},
		{"delivered", "Reports delivered", "mdi:check-circle", "reports/state", "{{ value_json.delivered }}"},
		{"rejected", "Reports rejected", "mdi:account-question", "reports/state", "{{ value_json.rejected }}"},
		{"failed", "Reports failed", "mdi:alert-circle", "reports/state", "{{ value_json.failed }}"},
	}

	device := map[string]interface{}{
		"identifiers":  []string{safeID},
		"name":         "Smart Roll Call Gateway",
		"manufacturer": "Smart Roll Call",
		"model":        "Wi-Fi attendance gateway",
	}

	for _, s := range sensors {
		payload := map[string]interface{}{
			"name":                  s.name,
			"unique_id":             safeID + "_" + s.key,
			"object_id":             safeID + "_" + s.key,
			"icon":                  s.icon,
			"state_topic":           c.prefix + "/" + s.stateTopic,
			"state_class":           "measurement",
			"availability_topic":    c.prefix + "/availability",
			"payload_available":     "online",
			"payload_not_available": "offline",
			"device":                device,
		}
		if s.valueTemplate != "" {
			payload["value_template"] = s.valueTemplate
			payload["state_class"] = "total_increasing"
		}

		data, err := json.Marshal(payload)
		if err != nil {
			c.logger.Error("encode discovery payload", "sensor", s.key, "error", err)
			continue
		}
		topic := fmt.Sprintf("%s/sensor/%s/%s/config", c.cfg.HADiscoveryPrefix, safeID, s.key)
		c.client.Publish(topic, 0, true, data)
	}
	c.logger.Info("home assistant discovery published", "sensors", len(sensors))
}

func sanitizeID(id string) string {
	id = strings.ReplaceAll(id, " ", "_")
	return strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' || r == '-' {
			return r
		}
		return -1
	}, id)
}

func upDown(up bool) string {
	if up {
		return "up"
	}
	return "down"
}
