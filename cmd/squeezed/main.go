package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/bradfitz/android-squeezer-sub002/internal/adapters/clock"
	"github.com/bradfitz/android-squeezer-sub002/internal/adapters/idgen"
	"github.com/bradfitz/android-squeezer-sub002/internal/adapters/mqttserver"
	"github.com/bradfitz/android-squeezer-sub002/internal/adapters/prefs"
	"github.com/bradfitz/android-squeezer-sub002/internal/core"
	browseapi "github.com/bradfitz/android-squeezer-sub002/internal/modules/browse_api"
	embeddedmqtt "github.com/bradfitz/android-squeezer-sub002/internal/modules/embedded_mqtt"
	eventfeed "github.com/bradfitz/android-squeezer-sub002/internal/modules/event_feed"
	mqttbridge "github.com/bradfitz/android-squeezer-sub002/internal/modules/mqtt_bridge"
	"github.com/bradfitz/android-squeezer-sub002/internal/session"
	"github.com/bradfitz/android-squeezer-sub002/internal/squeezed"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

type overrides struct {
	server    string
	player    string
	logLevel  string
	logFormat string
	logOutput string
}

func main() {
	var (
		configPath  string
		ov          overrides
		moduleOnly  string
		printConfig bool
		dryRun      bool
	)

	defaultConfig, err := squeezed.DefaultConfigPath()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	flags := pflag.NewFlagSet("squeezed", pflag.ExitOnError)
	flags.StringVarP(&configPath, "config", "c", defaultConfig, "config file path")
	flags.StringVarP(&ov.server, "server", "s", "", "music server host[:port] override")
	flags.StringVarP(&ov.player, "player", "p", "", "player to select after connecting")
	flags.StringVar(&ov.logLevel, "log-level", "", "log level override (debug|info|warn|error)")
	flags.StringVar(&ov.logFormat, "log-format", "", "log format override (console|json)")
	flags.StringVar(&ov.logOutput, "log-output", "", "log output override (stderr|stdout|path)")
	flags.StringVar(&moduleOnly, "module", "", "limit to a single module")
	flags.BoolVar(&printConfig, "print-config", false, "print resolved config and exit")
	flags.BoolVar(&dryRun, "dry-run", false, "validate config and exit")
	_ = flags.Parse(os.Args[1:])

	cfg, err := squeezed.LoadConfig(configPath)
	if err != nil && !(ov.server != "" && errors.Is(err, os.ErrNotExist)) {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	applyOverrides(&cfg, ov)
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if printConfig {
		printResolvedConfig(cfg)
		return
	}
	if dryRun {
		return
	}

	logger, err := squeezed.NewLogger(cfg.Log)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	logger.Info("squeezed starting",
		zap.String("server", cfg.Server.Address),
		zap.String("player", cfg.Server.Player),
		zap.Strings("modules", cfg.EnabledModules()),
	)

	sess, svc, err := newSession(cfg, logger)
	if err != nil {
		logger.Error("session setup failed", zap.Error(err))
		os.Exit(1)
	}

	modules, err := buildModules(cfg, svc, logger, moduleOnly)
	if err != nil {
		logger.Error("failed to build modules", zap.Error(err))
		os.Exit(1)
	}
	modules = append([]squeezed.ModuleRunner{{
		Name: "session",
		Run: func(ctx context.Context) error {
			return keepConnected(ctx, svc, cfg.Server, logger)
		},
	}}, modules...)
	defer sess.Disconnect()

	supervisor := squeezed.Supervisor{Logger: logger}
	if err := supervisor.Run(ctx, modules); err != nil {
		logger.Error("supervisor error", zap.Error(err))
		os.Exit(1)
	}
}

func applyOverrides(cfg *squeezed.Config, ov overrides) {
	if ov.server != "" {
		cfg.Server.Address = ov.server
	}
	if ov.player != "" {
		cfg.Server.Player = ov.player
	}
	if ov.logLevel != "" {
		cfg.Log.Level = ov.logLevel
	}
	if ov.logFormat != "" {
		cfg.Log.Format = ov.logFormat
	}
	if ov.logOutput != "" {
		cfg.Log.Output = ov.logOutput
	}
	if cfg.Modules.MQTTBridge.TopicBase == "" {
		cfg.Modules.MQTTBridge.TopicBase = mqttbridge.DefaultTopicBase
	}
	if cfg.Modules.MQTTBridge.Broker == "" && cfg.Modules.EmbeddedMQTT.Enabled {
		cfg.Modules.MQTTBridge.Broker = embeddedBrokerURL(cfg.Modules.EmbeddedMQTT)
	}
	if cfg.Modules.MQTTBridge.ClientID == "" {
		cfg.Modules.MQTTBridge.ClientID = idgen.Generator{Prefix: "squeezed"}.NewID()
	}
}

// embeddedBrokerURL returns a URL the bridge can dial for the embedded broker.
func embeddedBrokerURL(cfg squeezed.EmbeddedMQTTConfig) string {
	listen := cfg.Listen
	if listen == "" {
		listen = embeddedmqtt.DefaultListen
	}
	if host, port, err := net.SplitHostPort(listen); err == nil && (host == "" || host == "0.0.0.0" || host == "::") {
		listen = net.JoinHostPort("127.0.0.1", port)
	}
	return embeddedmqtt.BrokerURL(listen, cfg.TLSCert != "" || cfg.TLSKey != "")
}

func newSession(cfg squeezed.Config, logger *zap.Logger) (*session.Session, core.Service, error) {
	var store *prefs.Store
	if cfg.Server.StateFile != "" {
		store = prefs.NewStoreAt(cfg.Server.StateFile)
	} else {
		var err error
		if store, err = prefs.NewStore(); err != nil {
			return nil, core.Service{}, err
		}
	}
	sess := session.New(session.Options{
		Logger:         logger,
		Players:        store,
		PageSize:       cfg.Server.PageSize,
		ConnectTimeout: cfg.Server.ConnectTimeout(),
	})
	svc := core.Service{
		Session: sess,
		Clock:   clock.Clock{},
		Config: core.Config{
			Server:   cfg.Server.Address,
			Player:   cfg.Server.Player,
			PageSize: cfg.Server.PageSize,
			Aliases:  cfg.Server.Aliases,
		},
	}
	return sess, svc, nil
}

// keepConnected holds the session open, reconnecting after losses until ctx
// is done.
func keepConnected(ctx context.Context, svc core.Service, cfg squeezed.ServerConfig, logger *zap.Logger) error {
	log := logger.With(zap.String("server", cfg.Address))
	lost := make(chan struct{}, 1)
	remove := svc.Session.AddListener(session.Listener{
		Connection: func(connected, _ bool) {
			if connected {
				return
			}
			select {
			case lost <- struct{}{}:
			default:
			}
		},
	})
	defer remove()
	defer svc.Session.Disconnect()

	for {
		if err := svc.Connect(ctx, ""); err != nil {
			log.Warn("connect failed", zap.Error(err), zap.Duration("retry", cfg.RetryInterval()))
		} else {
			log.Info("connected",
				zap.String("version", svc.Session.ServerVersion()),
				zap.Int("page_size", svc.Session.PageSize()))
			if cfg.Player != "" {
				if p, err := svc.UsePlayer(ctx, ""); err != nil {
					log.Warn("select player failed", zap.Error(err))
				} else {
					log.Info("player selected", zap.String("player", p.ID), zap.String("name", p.Name))
				}
			}
			select {
			case <-ctx.Done():
				return nil
			case <-lost:
				log.Warn("connection lost", zap.Duration("retry", cfg.RetryInterval()))
			}
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(cfg.RetryInterval()):
		}
		// Drain a loss reported by the failed attempt itself.
		select {
		case <-lost:
		default:
		}
	}
}

func buildModules(cfg squeezed.Config, svc core.Service, logger *zap.Logger, moduleOnly string) ([]squeezed.ModuleRunner, error) {
	var modules []squeezed.ModuleRunner
	selected := func(name string) bool { return moduleOnly == "" || moduleOnly == name }

	var broker *embeddedmqtt.Module
	if emb := cfg.Modules.EmbeddedMQTT; emb.Enabled && selected("embedded_mqtt") {
		mod, err := embeddedmqtt.NewModule(logger, embeddedmqtt.Config{
			Listen:         emb.Listen,
			AllowAnonymous: emb.AllowAnonymous,
			Username:       emb.Username,
			Password:       emb.Password,
			TLSCA:          emb.TLSCA,
			TLSCert:        emb.TLSCert,
			TLSKey:         emb.TLSKey,
		})
		if err != nil {
			return nil, err
		}
		broker = mod
		modules = append(modules, squeezed.ModuleRunner{Name: "embedded_mqtt", Run: mod.Run})
	}

	if bridgeCfg := cfg.Modules.MQTTBridge; bridgeCfg.Enabled && selected("mqtt_bridge") {
		modules = append(modules, squeezed.ModuleRunner{
			Name: "mqtt_bridge",
			Run: func(ctx context.Context) error {
				return runBridge(ctx, bridgeCfg, broker, svc, logger)
			},
		})
	}

	if feedCfg := cfg.Modules.EventFeed; feedCfg.Enabled && selected("event_feed") {
		feed, err := eventfeed.NewModule(logger, svc.Session, eventfeed.Config{
			Listen:         feedCfg.Listen,
			AllowedOrigins: feedCfg.AllowedOrigins,
		})
		if err != nil {
			return nil, err
		}
		modules = append(modules, squeezed.ModuleRunner{Name: "event_feed", Run: feed.Run})
	}

	if apiCfg := cfg.Modules.BrowseAPI; apiCfg.Enabled && selected("browse_api") {
		api, err := browseapi.NewModule(logger, svc, svc.Session, browseapi.Config{
			Listen:    apiCfg.Listen,
			CacheSize: apiCfg.CacheSize,
			CacheTTL:  apiCfg.CacheTTL(),
			Compress:  apiCfg.CacheCompress,
		})
		if err != nil {
			return nil, err
		}
		modules = append(modules, squeezed.ModuleRunner{Name: "browse_api", Run: api.Run})
	}

	if moduleOnly != "" && len(modules) == 0 {
		return nil, fmt.Errorf("module %q is not enabled", moduleOnly)
	}
	return modules, nil
}

// runBridge connects to the broker, waiting for the embedded one when it runs
// in this process, and bridges until ctx is done.
func runBridge(ctx context.Context, cfg squeezed.MQTTBridgeConfig, broker *embeddedmqtt.Module, svc core.Service, logger *zap.Logger) error {
	if broker != nil {
		select {
		case <-broker.Ready():
		case <-ctx.Done():
			return nil
		}
	}

	var bridge atomic.Pointer[mqttbridge.Module]
	client, err := mqttserver.NewClient(mqttserver.Options{
		BrokerURL: cfg.Broker,
		ClientID:  cfg.ClientID,
		Username:  cfg.Username,
		Password:  cfg.Password,
		TLSCA:     cfg.TLSCA,
		TLSCert:   cfg.TLSCert,
		TLSKey:    cfg.TLSKey,
		Will: &mqttserver.Will{
			Topic:    mqttbridge.ConnectionTopic(cfg.TopicBase),
			Payload:  mqttbridge.ConnectionPayload(false, time.Now()),
			QoS:      1,
			Retained: true,
		},
		OnConnect: func() {
			if b := bridge.Load(); b != nil {
				b.Republish()
			}
		},
		Logger: logger,
		Debug:  cfg.Debug,
	})
	if err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	defer client.Close(250 * time.Millisecond)

	mod, err := mqttbridge.NewModule(logger, client, svc.Session, mqttbridge.Config{
		TopicBase: cfg.TopicBase,
		Select:    svc.UsePlayer,
		Clock:     svc.Clock,
	})
	if err != nil {
		return err
	}
	bridge.Store(mod)
	return mod.Run(ctx)
}

func printResolvedConfig(cfg squeezed.Config) {
	fmt.Fprintf(os.Stdout,
		"server=%s player=%s page_size=%d log_level=%s log_format=%s log_output=%s modules=%v broker=%s topic_base=%s\n",
		cfg.Server.Address,
		cfg.Server.Player,
		cfg.Server.PageSize,
		cfg.Log.Level,
		cfg.Log.Format,
		cfg.Log.Output,
		cfg.EnabledModules(),
		cfg.Modules.MQTTBridge.Broker,
		cfg.Modules.MQTTBridge.TopicBase,
	)
}
