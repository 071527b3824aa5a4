package squeezed

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the top-level configuration for squeezed.
type Config struct {
	Server  ServerConfig  `toml:"server"`
	Log     LogConfig     `toml:"log"`
	Modules ModulesConfig `toml:"modules"`
}

// ServerConfig describes the music server connection.
type ServerConfig struct {
	Address          string            `toml:"address"`
	Player           string            `toml:"player"`
	PageSize         int               `toml:"page_size"`
	ConnectTimeoutMS int64             `toml:"connect_timeout_ms"`
	RetryMS          int64             `toml:"retry_ms"`
	StateFile        string            `toml:"state_file"`
	Aliases          map[string]string `toml:"aliases"`
}

// ConnectTimeout returns the dial timeout, zero meaning the session default.
func (c ServerConfig) ConnectTimeout() time.Duration {
	return time.Duration(c.ConnectTimeoutMS) * time.Millisecond
}

// RetryInterval returns the delay between reconnect attempts.
func (c ServerConfig) RetryInterval() time.Duration {
	if c.RetryMS <= 0 {
		return 5 * time.Second
	}
	return time.Duration(c.RetryMS) * time.Millisecond
}

// ModulesConfig holds module configurations.
type ModulesConfig struct {
	MQTTBridge   MQTTBridgeConfig   `toml:"mqtt_bridge"`
	EmbeddedMQTT EmbeddedMQTTConfig `toml:"embedded_mqtt"`
	EventFeed    EventFeedConfig    `toml:"event_feed"`
	BrowseAPI    BrowseAPIConfig    `toml:"browse_api"`
}

// MQTTBridgeConfig configures the MQTT bridge and its broker connection.
// An empty broker with the embedded broker enabled dials the embedded one.
type MQTTBridgeConfig struct {
	Enabled   bool   `toml:"enabled"`
	Broker    string `toml:"broker"`
	ClientID  string `toml:"client_id"`
	TopicBase string `toml:"topic_base"`
	Username  string `toml:"username"`
	Password  string `toml:"password"`
	TLSCA     string `toml:"tls_ca"`
	TLSCert   string `toml:"tls_cert"`
	TLSKey    string `toml:"tls_key"`
	Debug     bool   `toml:"debug"`
}

// EmbeddedMQTTConfig configures the embedded MQTT broker.
type EmbeddedMQTTConfig struct {
	Enabled        bool   `toml:"enabled"`
	Listen         string `toml:"listen"`
	AllowAnonymous bool   `toml:"allow_anonymous"`
	Username       string `toml:"username"`
	Password       string `toml:"password"`
	TLSCA          string `toml:"tls_ca"`
	TLSCert        string `toml:"tls_cert"`
	TLSKey         string `toml:"tls_key"`
}

// EventFeedConfig configures the websocket event feed.
type EventFeedConfig struct {
	Enabled        bool     `toml:"enabled"`
	Listen         string   `toml:"listen"`
	AllowedOrigins []string `toml:"allowed_origins"`
}

// BrowseAPIConfig configures the HTTP browse API and its list cache.
type BrowseAPIConfig struct {
	Enabled       bool   `toml:"enabled"`
	Listen        string `toml:"listen"`
	CacheSize     int    `toml:"cache_size"`
	CacheTTLMS    int64  `toml:"cache_ttl_ms"`
	CacheCompress bool   `toml:"cache_compress"`
}

// CacheTTL returns the cache lifetime, zero meaning the module default.
func (c BrowseAPIConfig) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLMS) * time.Millisecond
}

// LoadConfig loads a config file from path.
func LoadConfig(path string) (Config, error) {
	if path == "" {
		return Config{}, errors.New("config path required")
	}
	info, err := os.Stat(path)
	if err != nil {
		return Config{}, err
	}
	if info.IsDir() {
		return Config{}, errors.New("config path is a directory")
	}

	var cfg Config
	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return Config{}, err
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("unknown config key %q", undecoded[0].String())
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks settings that cannot be defaulted.
func (c Config) Validate() error {
	if c.Server.Address == "" {
		return errors.New("server.address is required")
	}
	if c.Server.PageSize < 0 {
		return errors.New("server.page_size must not be negative")
	}
	bridge := c.Modules.MQTTBridge
	if bridge.Enabled && bridge.Broker == "" && !c.Modules.EmbeddedMQTT.Enabled {
		return errors.New("modules.mqtt_bridge.broker is required without the embedded broker")
	}
	if c.Modules.BrowseAPI.CacheTTLMS < 0 {
		return errors.New("modules.browse_api.cache_ttl_ms must not be negative")
	}
	return nil
}

// EnabledModules lists the enabled module names.
func (c Config) EnabledModules() []string {
	var names []string
	if c.Modules.EmbeddedMQTT.Enabled {
		names = append(names, "embedded_mqtt")
	}
	if c.Modules.MQTTBridge.Enabled {
		names = append(names, "mqtt_bridge")
	}
	if c.Modules.EventFeed.Enabled {
		names = append(names, "event_feed")
	}
	if c.Modules.BrowseAPI.Enabled {
		names = append(names, "browse_api")
	}
	return names
}

// DefaultConfigPath returns the default config location.
func DefaultConfigPath() (string, error) {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, "squeezer", "squeezed.toml"), nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "squeezer", "squeezed.toml"), nil
}
