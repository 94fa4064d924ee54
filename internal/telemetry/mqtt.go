// Package telemetry publishes the supervisor's status snapshot to MQTT as
// an observability side-channel. It is never a control path: no topic is
// ever subscribed, and nothing here can command a motor.
package telemetry

import (
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"
)

// Config names the broker and the site/device pair used to compose the
// state topic, shaped arachno/<site>/<device>/state.
type Config struct {
	BrokerURL string
	Site      string
	Device    string
	Username  string
	Password  string
}

func (c Config) stateTopic() string {
	return fmt.Sprintf("arachno/%s/%s/state", c.Site, c.Device)
}

// Publisher holds a connected MQTT client and publishes snapshots handed
// to it by the caller (the serve command's publish ticker, once per poll
// interval).
type Publisher struct {
	client mqtt.Client
	topic  string
	log    *logrus.Entry
}

// Connect dials the broker with auto-reconnect and connect-retry enabled,
// so a broker restart or transient network blip doesn't require the caller
// to re-dial.
func Connect(cfg Config) (*Publisher, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.BrokerURL).
		SetClientID("arachno-supervisor-" + cfg.Device).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetOrderMatters(false)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	client := mqtt.NewClient(opts)
	tok := client.Connect()
	if !tok.WaitTimeout(10*time.Second) || tok.Error() != nil {
		return nil, fmt.Errorf("telemetry: mqtt connect: %w", tok.Error())
	}

	return &Publisher{
		client: client,
		topic:  cfg.stateTopic(),
		log:    logrus.WithField("component", "telemetry"),
	}, nil
}

// Close disconnects the client, waiting up to 250ms for in-flight publishes.
func (p *Publisher) Close() {
	p.client.Disconnect(250)
}

// Publish marshals status to JSON and publishes it at QoS 1, not retained —
// a stale retained status is worse than a momentarily absent one.
func (p *Publisher) Publish(status interface{}) {
	b, err := json.Marshal(status)
	if err != nil {
		p.log.Warnf("marshal status: %v", err)
		return
	}
	tok := p.client.Publish(p.topic, 1, false, b)
	if tok.WaitTimeout(2*time.Second) && tok.Error() != nil {
		p.log.Warnf("publish: %v", tok.Error())
	}
}
