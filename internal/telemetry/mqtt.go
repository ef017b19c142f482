package telemetry

import (
	"fmt"
	"log"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Connect builds and connects an MQTT client. An empty broker disables
// telemetry: both return values are nil and callers should skip
// publishing.
func Connect(broker, clientID string) (mqtt.Client, error) {
	if broker == "" {
		log.Println("[Telemetry] MQTT disabled: no broker configured")
		return nil, nil
	}
	if clientID == "" {
		clientID = "relocalize"
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(clientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(60 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetOrderMatters(false)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Printf("[Telemetry] MQTT connection lost: %v", err)
	})
	opts.SetOnConnectHandler(func(_ mqtt.Client) {
		log.Printf("[Telemetry] connected to MQTT broker %s", broker)
	})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if token.WaitTimeout(10*time.Second) && token.Error() != nil {
		return nil, fmt.Errorf("connecting to MQTT broker %s: %w", broker, token.Error())
	}
	return client, nil
}
