package mqttserver

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

const (
	defaultTimeout        = 2 * time.Second
	defaultKeepAlive      = 30 * time.Second
	defaultMaxReconnect   = 30 * time.Second
	debugPayloadLimit     = 2048
	disconnectQuiesceUnit = time.Millisecond
)

// Will is the last-will message the broker publishes if the client drops.
type Will struct {
	Topic    string
	Payload  []byte
	QoS      byte
	Retained bool
}

// Options configures the MQTT client.
type Options struct {
	BrokerURL string
	ClientID  string
	Username  string
	Password  string
	TLSCA     string
	TLSCert   string
	TLSKey    string

	Timeout      time.Duration
	KeepAlive    time.Duration
	MaxReconnect time.Duration
	// Persistent keeps the broker session (and its QoS 1 queue) across
	// reconnects instead of starting clean.
	Persistent bool
	Will       *Will
	// OnConnect runs after every successful connect, including reconnects.
	OnConnect func()
	Logger    *zap.Logger
	Debug     bool
}

// Handler receives one message.
type Handler func(topic string, payload []byte)

// Client is a connected MQTT client used by the bridge.
type Client struct {
	client paho.Client
	log    *zap.Logger
	debug  bool
}

// NewClient connects to the broker and returns once the first connect
// succeeds. Later drops reconnect automatically.
func NewClient(opts Options) (*Client, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	clientOpts, err := clientOptions(opts)
	if err != nil {
		return nil, err
	}
	log := opts.Logger.With(zap.String("broker", opts.BrokerURL), zap.String("client_id", opts.ClientID))
	clientOpts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		log.Warn("mqtt connection lost", zap.Error(err))
	})
	clientOpts.SetReconnectingHandler(func(paho.Client, *paho.ClientOptions) {
		log.Debug("mqtt reconnecting")
	})
	clientOpts.SetOnConnectHandler(func(paho.Client) {
		log.Info("mqtt connected")
		if opts.OnConnect != nil {
			opts.OnConnect()
		}
	})

	client := paho.NewClient(clientOpts)
	token := client.Connect()
	if !token.WaitTimeout(clientOpts.ConnectTimeout + time.Second) {
		client.Disconnect(0)
		return nil, fmt.Errorf("connect %s: timed out", opts.BrokerURL)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect %s: %w", opts.BrokerURL, err)
	}
	return &Client{client: client, log: log, debug: opts.Debug}, nil
}

// clientOptions maps opts onto paho options, without connect callbacks.
func clientOptions(opts Options) (*paho.ClientOptions, error) {
	if opts.BrokerURL == "" {
		return nil, errors.New("broker url required")
	}
	if opts.ClientID == "" {
		return nil, errors.New("client id required")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.KeepAlive <= 0 {
		opts.KeepAlive = defaultKeepAlive
	}
	if opts.MaxReconnect <= 0 {
		opts.MaxReconnect = defaultMaxReconnect
	}

	o := paho.NewClientOptions().
		AddBroker(opts.BrokerURL).
		SetClientID(opts.ClientID).
		SetConnectTimeout(opts.Timeout).
		SetKeepAlive(opts.KeepAlive).
		SetAutoReconnect(true).
		SetMaxReconnectInterval(opts.MaxReconnect).
		SetCleanSession(!opts.Persistent).
		SetOrderMatters(false)

	if opts.Username != "" {
		o.SetUsername(opts.Username)
		o.SetPassword(opts.Password)
	}
	if w := opts.Will; w != nil {
		if w.Topic == "" {
			return nil, errors.New("will topic required")
		}
		o.SetBinaryWill(w.Topic, w.Payload, w.QoS, w.Retained)
	}

	tlsConfig, err := buildTLSConfig(opts.TLSCA, opts.TLSCert, opts.TLSKey)
	if err != nil {
		return nil, err
	}
	if tlsConfig != nil {
		o.SetTLSConfig(tlsConfig)
	}
	return o, nil
}

// Publish sends payload and waits for the broker to accept it.
func (c *Client) Publish(topic string, qos byte, retained bool, payload []byte) error {
	if c.debug {
		c.log.Debug("mqtt publish",
			zap.String("topic", topic),
			zap.Bool("retained", retained),
			zap.ByteString("payload", clip(payload)))
	}
	token := c.client.Publish(topic, qos, retained, payload)
	token.Wait()
	return token.Error()
}

// Subscribe registers handler for a topic filter.
func (c *Client) Subscribe(topic string, qos byte, handler Handler) error {
	token := c.client.Subscribe(topic, qos, func(_ paho.Client, msg paho.Message) {
		if c.debug {
			c.log.Debug("mqtt message", zap.String("topic", msg.Topic()), zap.ByteString("payload", clip(msg.Payload())))
		}
		handler(msg.Topic(), msg.Payload())
	})
	token.Wait()
	if err := token.Error(); err != nil {
		return fmt.Errorf("subscribe %s: %w", topic, err)
	}
	return nil
}

// Unsubscribe drops a topic filter.
func (c *Client) Unsubscribe(topic string) error {
	token := c.client.Unsubscribe(topic)
	token.Wait()
	return token.Error()
}

// Close disconnects, waiting up to quiesce for in-flight work.
func (c *Client) Close(quiesce time.Duration) {
	c.client.Disconnect(uint(quiesce / disconnectQuiesceUnit))
}

func clip(payload []byte) []byte {
	if len(payload) <= debugPayloadLimit {
		return payload
	}
	return payload[:debugPayloadLimit]
}

func buildTLSConfig(caPath, certPath, keyPath string) (*tls.Config, error) {
	if caPath == "" && certPath == "" && keyPath == "" {
		return nil, nil
	}
	cfg := &tls.Config{MinVersion: tls.VersionTLS12}
	if caPath != "" {
		pem, err := os.ReadFile(caPath)
		if err != nil {
			return nil, fmt.Errorf("read ca: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates in %s", caPath)
		}
		cfg.RootCAs = pool
	}
	switch {
	case certPath == "" && keyPath == "":
	case certPath == "" || keyPath == "":
		return nil, errors.New("tls cert and key must be set together")
	default:
		cert, err := tls.LoadX509KeyPair(certPath, keyPath)
		if err != nil {
			return nil, fmt.Errorf("load client certificate: %w", err)
		}
		cfg.Certificates = []tls.Certificate{cert}
	}
	return cfg, nil
}
