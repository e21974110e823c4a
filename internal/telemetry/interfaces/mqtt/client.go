package mqtt

import (
	"errors"
	"fmt"
	"log"

	paho "github.com/eclipse/paho.mqtt.golang"
)

// DefaultTopic is the broker subscription pattern; the second segment is the
// channel name.
const DefaultTopic = "tanks/+/data"

// ClientConfig carries broker connection settings.
type ClientConfig struct {
	BrokerURL string
	ClientID  string
	Username  string
	Password  string
	Topic     string
}

// Connect dials the broker and subscribes the consumer. Subscription happens
// in the on-connect hook so it is re-established after a reconnect.
func Connect(cfg ClientConfig, consumer *Consumer, logger *log.Logger) (paho.Client, error) {
	if cfg.BrokerURL == "" {
		return nil, errors.New("mqtt client: broker URL required")
	}
	if consumer == nil {
		return nil, errors.New("mqtt client: nil consumer")
	}
	if logger == nil {
		logger = log.Default()
	}
	topic := cfg.Topic
	if topic == "" {
		topic = DefaultTopic
	}

	opts := paho.NewClientOptions().
		AddBroker(cfg.BrokerURL).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetOnConnectHandler(func(client paho.Client) {
		token := client.Subscribe(topic, 1, func(_ paho.Client, msg paho.Message) {
			consumer.Submit(msg.Topic(), msg.Payload())
		})
		token.Wait()
		if err := token.Error(); err != nil {
			logger.Printf("mqtt: subscribe to %q failed: %v", topic, err)
			return
		}
		logger.Printf("mqtt: subscribed to %q", topic)
	})
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		logger.Printf("mqtt: connection lost: %v", err)
	})

	client := paho.NewClient(opts)
	token := client.Connect()
	token.Wait()
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt client: connect: %w", err)
	}
	return client, nil
}
