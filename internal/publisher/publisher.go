// Package publisher maintains the device's connection to the ingestion
// endpoint and publishes telemetry with acknowledged delivery.
package publisher

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"telemetryhub/internal/logger"
	"telemetryhub/internal/sas"
	"telemetryhub/pkg/models"
)

// DefaultAPIVersion pins the api-version segment of the connection username.
const DefaultAPIVersion = "2021-04-12"

const ackTimeout = 5 * time.Second

// Config configures the reliable publisher.
type Config struct {
	Host       string
	DeviceID   string
	DeviceKey  string // base64 shared key
	APIVersion string

	// UseWebsockets moves the transport to port 443 for restrictive
	// networks; otherwise plain TLS on 8883.
	UseWebsockets bool

	TokenTTL    time.Duration
	RenewMargin time.Duration // renew when remaining lifetime drops below this
	Retries     int

	// OnDeviceBound, if set, receives cloud-to-device payloads after they
	// are logged. Extension point; the publisher itself never acts on them.
	OnDeviceBound func(topic string, payload []byte)
}

// transport is the slice of the MQTT client the publisher drives; narrowed
// so tests can substitute a fake.
type transport interface {
	IsConnected() bool
	Connect() mqtt.Token
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

// Publisher publishes samples with bounded retries and renews its signed
// credential before expiry. Network failures degrade to reconnect attempts;
// they never crash the process.
type Publisher struct {
	cfg    Config
	client transport
	topic  string

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time

	sleep func(time.Duration)
}

// New builds a publisher. The connection is not opened until Connect.
func New(cfg Config) (*Publisher, error) {
	if cfg.Host == "" || cfg.DeviceID == "" {
		return nil, fmt.Errorf("host and device id are required")
	}
	if cfg.DeviceKey == "" {
		return nil, fmt.Errorf("device key is required")
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = DefaultAPIVersion
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = time.Hour
	}
	if cfg.RenewMargin <= 0 {
		cfg.RenewMargin = 5 * time.Minute
	}
	if cfg.Retries <= 0 {
		cfg.Retries = 5
	}

	p := &Publisher{
		cfg:   cfg,
		topic: fmt.Sprintf("devices/%s/messages/events/", cfg.DeviceID),
		sleep: time.Sleep,
	}

	scheme, port := "tls", 8883
	if cfg.UseWebsockets {
		scheme, port = "wss", 443
	}
	opts := mqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("%s://%s:%d", scheme, cfg.Host, port)).
		SetClientID(cfg.DeviceID).
		SetProtocolVersion(4).
		SetKeepAlive(60 * time.Second).
		SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12}).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(time.Second).
		SetMaxReconnectInterval(8 * time.Second).
		SetCredentialsProvider(p.credentials).
		SetOnConnectHandler(p.onConnect).
		SetConnectionLostHandler(p.onConnectionLost)
	p.client = mqtt.NewClient(opts)

	return p, nil
}

// Connect opens the connection, surfacing a credential error before any
// network attempt so callers can tell "retry won't help" apart from
// transient failures.
func (p *Publisher) Connect(ctx context.Context) error {
	if _, _, err := p.issueToken(); err != nil {
		return err
	}

	logger.Infof("Connecting to %s (device=%s websockets=%v)", p.cfg.Host, p.cfg.DeviceID, p.cfg.UseWebsockets)
	t := p.client.Connect()
	select {
	case <-t.Done():
		if err := t.Error(); err != nil {
			return fmt.Errorf("failed to connect: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Publish attempts acknowledged delivery of one sample. While the transport
// is down or the send fails it sleeps with linear backoff and retries up to
// the configured budget, then reports false. A false result is observable,
// never fatal.
func (p *Publisher) Publish(sample *models.TelemetrySample) bool {
	payload, err := json.Marshal(sample)
	if err != nil {
		logger.Errorf("Failed to encode sample: %v", err)
		return false
	}

	for attempt := 0; attempt < p.cfg.Retries; attempt++ {
		if p.client.IsConnected() {
			t := p.client.Publish(p.topic, 1, false, payload)
			if t.WaitTimeout(ackTimeout) && t.Error() == nil {
				return true
			}
			logger.Warnf("Publish attempt %d/%d failed (device=%s): %v", attempt+1, p.cfg.Retries, p.cfg.DeviceID, t.Error())
		}
		// Give the automatic reconnect time to recover.
		p.sleep(time.Duration(attempt+1) * time.Second)
	}

	logger.Warnf("[fail] publish dropped after %d attempts (device=%s)", p.cfg.Retries, p.cfg.DeviceID)
	return false
}

// Close releases the connection and its callbacks. The publisher must not be
// reused afterwards.
func (p *Publisher) Close() {
	p.client.Disconnect(250)
	logger.Infof("Publisher stopped (device=%s)", p.cfg.DeviceID)
}

// credentials is invoked by the transport on every connect attempt. It
// reuses the current token while enough lifetime remains and renews it
// otherwise; a renewal failure keeps the last token so the publisher
// degrades to reconnect attempts instead of crashing.
func (p *Publisher) credentials() (string, string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.token == "" || time.Until(p.tokenExpiry) < p.cfg.RenewMargin {
		token, expiry, err := p.issueTokenLocked()
		if err != nil {
			logger.Errorf("Failed to renew access token (device=%s): %v", p.cfg.DeviceID, err)
		} else {
			p.token = token
			p.tokenExpiry = expiry
		}
	}
	return sas.Username(p.cfg.Host, p.cfg.DeviceID, p.cfg.APIVersion), p.token
}

func (p *Publisher) issueToken() (string, time.Time, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	token, expiry, err := p.issueTokenLocked()
	if err == nil {
		p.token = token
		p.tokenExpiry = expiry
	}
	return token, expiry, err
}

func (p *Publisher) issueTokenLocked() (string, time.Time, error) {
	now := time.Now()
	token, err := sas.TokenAt(now, p.cfg.Host, p.cfg.DeviceID, p.cfg.DeviceKey, p.cfg.TokenTTL)
	if err != nil {
		return "", time.Time{}, err
	}
	return token, now.Add(p.cfg.TokenTTL), nil
}

func (p *Publisher) onConnect(c mqtt.Client) {
	logger.Infof("Connected (device=%s)", p.cfg.DeviceID)

	filter := fmt.Sprintf("devices/%s/messages/devicebound/#", p.cfg.DeviceID)
	t := c.Subscribe(filter, 1, p.onDeviceBound)
	go func() {
		if t.Wait() && t.Error() != nil {
			logger.Warnf("Failed to subscribe %s: %v", filter, t.Error())
			return
		}
		logger.Infof("Subscribed to cloud-to-device topic: %s", filter)
	}()
}

func (p *Publisher) onConnectionLost(c mqtt.Client, err error) {
	logger.Warnf("Connection lost (device=%s): %v", p.cfg.DeviceID, err)
}

// onDeviceBound observes cloud-to-device messages. The core only logs them.
func (p *Publisher) onDeviceBound(c mqtt.Client, msg mqtt.Message) {
	logger.Infof("Cloud-to-device message (topic=%s len=%d)", msg.Topic(), len(msg.Payload()))
	if p.cfg.OnDeviceBound != nil {
		p.cfg.OnDeviceBound(msg.Topic(), msg.Payload())
	}
}
