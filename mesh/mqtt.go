package mesh

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// StatusHandler is called for every status message on the status topic.
// err is non-nil when the payload could not be decoded.
type StatusHandler func(status ControllerStatus, err error)

// MQTTClient manages the MQTT connection carrying controller status in and
// move commands / scan progress out
type MQTTClient struct {
	client        mqtt.Client
	config        *Config
	statusHandler StatusHandler
	isConnected   bool
	mu            sync.RWMutex
}

// InitMQTT creates the MQTT client and starts connecting in the background.
// If neither MQTT_BROKER nor the config names a broker, MQTT is disabled and
// this returns nil, nil.
func InitMQTT(config *Config, handler StatusHandler) (*MQTTClient, error) {
	// Check if MQTT is enabled via env var or config
	broker := os.Getenv("MQTT_BROKER")
	if broker == "" && config != nil && config.MQTT.Broker != "" {
		broker = config.MQTT.Broker
	}

	if broker == "" {
		log.Println("MQTT disabled: MQTT_BROKER not set")
		return nil, nil
	}

	if config == nil || config.MQTT.StatusTopic == "" {
		return nil, fmt.Errorf("MQTT enabled but no status topic configured")
	}

	client := &MQTTClient{
		config:        config,
		statusHandler: handler,
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)

	clientID := os.Getenv("MQTT_CLIENT_ID")
	if clientID == "" && config.MQTT.ClientID != "" {
		clientID = config.MQTT.ClientID
	}
	if clientID == "" {
		clientID = "stripemesh"
	}
	opts.SetClientID(clientID)

	// Authentication
	username := os.Getenv("MQTT_USERNAME")
	if username == "" && config.MQTT.Username != "" {
		username = config.MQTT.Username
	}
	if username != "" {
		opts.SetUsername(username)
		password := os.Getenv("MQTT_PASSWORD")
		if password == "" && config.MQTT.Password != "" {
			password = config.MQTT.Password
		}
		opts.SetPassword(password)
	}

	// Connection settings
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(60 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetCleanSession(false) // Preserve subscriptions on reconnect
	opts.SetOrderMatters(true)  // Status updates must reach the tracker in order

	opts.SetOnConnectHandler(client.onConnect)
	opts.SetConnectionLostHandler(client.onConnectionLost)
	opts.SetReconnectingHandler(client.onReconnecting)

	client.client = mqtt.NewClient(opts)

	go client.connectWithRetry()

	return client, nil
}

// connectWithRetry attempts to connect to the MQTT broker with exponential backoff
func (c *MQTTClient) connectWithRetry() {
	retryDelay := 1 * time.Second
	maxRetryDelay := 60 * time.Second

	for {
		log.Println("Connecting to MQTT broker...")

		token := c.client.Connect()
		if token.WaitTimeout(10 * time.Second) {
			if token.Error() == nil {
				log.Println("Successfully connected to MQTT broker")
				c.setConnected(true)
				return
			}
			log.Printf("MQTT connection failed: %v", token.Error())
		} else {
			log.Println("MQTT connection timeout")
		}

		log.Printf("Retrying MQTT connection in %v...", retryDelay)
		time.Sleep(retryDelay)
		retryDelay *= 2
		if retryDelay > maxRetryDelay {
			retryDelay = maxRetryDelay
		}
	}
}

// onConnect subscribes to the controller status topic
func (c *MQTTClient) onConnect(client mqtt.Client) {
	c.setConnected(true)

	topic := c.config.MQTT.StatusTopic
	log.Printf("MQTT connected, subscribing to %s", topic)
	token := client.Subscribe(topic, 0, c.createStatusHandler())
	if token.WaitTimeout(5*time.Second) && token.Error() != nil {
		log.Printf("Error subscribing to %s: %v", topic, token.Error())
		return
	}
	log.Printf("Successfully subscribed to %s", topic)
}

// onConnectionLost is called when the MQTT connection is lost
// Auto-reconnect is enabled, so this is typically a transient event
func (c *MQTTClient) onConnectionLost(client mqtt.Client, err error) {
	log.Printf("MQTT connection interrupted (%v), auto-reconnect will retry", err)
	c.setConnected(false)
}

func (c *MQTTClient) onReconnecting(client mqtt.Client, opts *mqtt.ClientOptions) {
	log.Println("MQTT reconnecting...")
}

// createStatusHandler decodes status payloads and forwards them
func (c *MQTTClient) createStatusHandler() mqtt.MessageHandler {
	return func(client mqtt.Client, msg mqtt.Message) {
		status, err := DecodeStatus(msg.Payload())
		if err != nil {
			log.Printf("Warning: undecodable status on %s: %v", msg.Topic(), err)
		}
		if c.statusHandler != nil {
			c.statusHandler(status, err)
		}
	}
}

// DecodeStatus parses an already-decoded controller status. Accepted shapes:
//
//	{"axes":[12.5,3.0,0],"state":"Idle"}
//	[12.5,3.0,0]
//
// A payload that is neither yields an error wrapping ErrNoPose.
func DecodeStatus(payload []byte) (ControllerStatus, error) {
	now := time.Now()
	trimmed := strings.TrimSpace(string(payload))
	if trimmed == "" {
		return ControllerStatus{ReceivedAt: now}, fmt.Errorf("%w: empty status payload", ErrNoPose)
	}

	if strings.HasPrefix(trimmed, "[") {
		var axes []float64
		if err := json.Unmarshal([]byte(trimmed), &axes); err != nil {
			return ControllerStatus{ReceivedAt: now}, fmt.Errorf("%w: %v", ErrNoPose, err)
		}
		return ControllerStatus{RawAxisValues: axes, ReceivedAt: now}, nil
	}

	var status ControllerStatus
	if err := json.Unmarshal([]byte(trimmed), &status); err != nil {
		return ControllerStatus{ReceivedAt: now}, fmt.Errorf("%w: %v", ErrNoPose, err)
	}
	status.ReceivedAt = now
	if len(status.RawAxisValues) == 0 {
		return status, fmt.Errorf("%w: status carries no axes", ErrNoPose)
	}
	return status, nil
}

// TrackerStatusHandler feeds decoded statuses into a position tracker
func TrackerStatusHandler(tracker *PositionTracker) StatusHandler {
	return func(status ControllerStatus, err error) {
		if err != nil {
			return
		}
		if _, err := tracker.Update(status); err != nil {
			log.Printf("[DEBUG] status ignored: %v", err)
		}
	}
}

// IsConnected returns true if the MQTT client is connected
func (c *MQTTClient) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.isConnected
}

func (c *MQTTClient) setConnected(connected bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.isConnected = connected
}

// Disconnect gracefully closes the MQTT connection
func (c *MQTTClient) Disconnect() {
	if c.client != nil && c.client.IsConnected() {
		log.Println("Disconnecting from MQTT broker...")
		c.client.Disconnect(250) // 250ms quiesce time
		c.setConnected(false)
	}
}

// GetClient returns the underlying MQTT client for publishing
func (c *MQTTClient) GetClient() mqtt.Client {
	return c.client
}

// newMQTTClientWithClient wraps an existing mqtt.Client
func newMQTTClientWithClient(client mqtt.Client, config *Config, handler StatusHandler) *MQTTClient {
	return &MQTTClient{
		client:        client,
		config:        config,
		statusHandler: handler,
	}
}
