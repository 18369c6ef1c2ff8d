package bridge

import (
	"errors"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"solarrelay-go/x/strx"
)

// Link is the broker session the bridge drives.
type Link interface {
	Connect(timeout time.Duration) error
	Publish(topic string, qos byte, retained bool, payload []byte) error
	Subscribe(filter string, qos byte, fn func(topic string, payload []byte)) error
	Disconnect()
}

// Dial builds a Link for cfg; onLost is called once if an established session
// drops. Replaced in tests.
var Dial = func(cfg Config, onLost func(error)) Link { return newMQTTLink(cfg, onLost) }

var errTimeout = errors.New("mqtt: operation timed out")

const opTimeout = 5 * time.Second

type mqttLink struct {
	c mqtt.Client
}

func newMQTTLink(cfg Config, onLost func(error)) *mqttLink {
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(false).
		SetConnectTimeout(time.Duration(cfg.ConnectTimeoutMS)*time.Millisecond).
		SetWill(strx.Path(cfg.Prefix, "status"), "offline", cfg.QoS, true).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			if onLost != nil {
				onLost(err)
			}
		})
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username).SetPassword(cfg.Password)
	}
	return &mqttLink{c: mqtt.NewClient(opts)}
}

func (l *mqttLink) Connect(timeout time.Duration) error {
	return wait(l.c.Connect(), timeout)
}

func (l *mqttLink) Publish(topic string, qos byte, retained bool, payload []byte) error {
	return wait(l.c.Publish(topic, qos, retained, payload), opTimeout)
}

func (l *mqttLink) Subscribe(filter string, qos byte, fn func(string, []byte)) error {
	return wait(l.c.Subscribe(filter, qos, func(_ mqtt.Client, m mqtt.Message) {
		fn(m.Topic(), m.Payload())
	}), opTimeout)
}

func (l *mqttLink) Disconnect() {
	if l.c.IsConnected() {
		l.c.Disconnect(250)
	}
}

func wait(t mqtt.Token, timeout time.Duration) error {
	if !t.WaitTimeout(timeout) {
		return errTimeout
	}
	return t.Error()
}
