package changefeed

import (
	"errors"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/roach88/sqlbridge/internal/config"
)

const (
	defaultConnectTimeout    = 10 * time.Second
	defaultPublishTimeout    = 5 * time.Second
	defaultDisconnectQuiesce = 1000 // milliseconds
	defaultKeepAlive         = 60 * time.Second

	maxQoS         = 2
	maxPayloadSize = 1 << 20
)

var (
	ErrNotConnected     = errors.New("changefeed: mqtt client not connected")
	ErrConnectionFailed = errors.New("changefeed: mqtt connection failed")
	ErrPublishFailed    = errors.New("changefeed: mqtt publish failed")
	ErrInvalidQoS       = errors.New("changefeed: invalid QoS level (must be 0, 1, or 2)")
	ErrInvalidTopic     = errors.New("changefeed: topic cannot be empty")
)

// MQTTPublisher is a Publisher backed by paho.mqtt.golang.
type MQTTPublisher struct {
	client pahomqtt.Client
}

// buildClientOptions creates paho options for the changefeed settings.
func buildClientOptions(cfg config.Changefeed) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)

	// Changes are fire-and-forget per session; nothing to resume.
	opts.SetCleanSession(true)

	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(defaultConnectTimeout)
	opts.SetKeepAlive(defaultKeepAlive)
	return opts
}

// DialMQTT connects to the broker named in cfg.
func DialMQTT(cfg config.Changefeed) (*MQTTPublisher, error) {
	if cfg.Broker == "" {
		return nil, fmt.Errorf("%w: no broker configured", ErrConnectionFailed)
	}

	client := pahomqtt.NewClient(buildClientOptions(cfg))
	token := client.Connect()
	if !token.WaitTimeout(defaultConnectTimeout) {
		return nil, fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, defaultConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	return &MQTTPublisher{client: client}, nil
}

// Publish sends payload to topic. Messages are never retained.
func (p *MQTTPublisher) Publish(topic string, payload []byte, qos byte) error {
	if err := checkPublish(topic, payload, qos); err != nil {
		return err
	}
	if !p.client.IsConnected() {
		return ErrNotConnected
	}

	token := p.client.Publish(topic, qos, false, payload)
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrPublishFailed, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	return nil
}

// Close disconnects, waiting briefly for in-flight publishes.
func (p *MQTTPublisher) Close() error {
	if p.client == nil {
		return nil
	}
	p.client.Disconnect(defaultDisconnectQuiesce)
	return nil
}

func checkPublish(topic string, payload []byte, qos byte) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: payload size %d exceeds maximum %d bytes", ErrPublishFailed, len(payload), maxPayloadSize)
	}
	return nil
}
