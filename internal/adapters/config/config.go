package config

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/bradfitz/android-squeezer-sub002/internal/core"
)

// Config holds CLI configuration from config.toml.
type Config struct {
	Server   string            `toml:"server"`
	Player   string            `toml:"player"`
	PageSize int               `toml:"page_size"`
	Aliases  map[string]string `toml:"aliases"`
}

// Core converts the file config into the CLI runtime config.
func (c Config) Core() core.Config {
	return core.Config{
		Server:   c.Server,
		Player:   c.Player,
		PageSize: c.PageSize,
		Aliases:  c.Aliases,
	}
}

// Load loads the default config.toml if present. Missing file returns an
// empty config.
func Load() (Config, error) {
	path, err := DefaultPath()
	if err != nil {
		return Config{}, err
	}
	return LoadFile(path)
}

// LoadFile loads path. Missing file returns an empty config.
func LoadFile(path string) (Config, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Config{Aliases: map[string]string{}}, nil
		}
		return Config{}, err
	}
	if info.IsDir() {
		return Config{}, errors.New("config path is a directory")
	}

	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, err
	}
	if cfg.PageSize < 0 {
		return Config{}, errors.New("page_size must not be negative")
	}
	if cfg.Aliases == nil {
		cfg.Aliases = map[string]string{}
	}
	return cfg, nil
}

// DefaultPath returns $XDG_CONFIG_HOME/squeezer/config.toml, falling back to
// ~/.config.
func DefaultPath() (string, error) {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, "squeezer", "config.toml"), nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "squeezer", "config.toml"), nil
}
