package core

import (
	"fmt"
	"strings"
)

const defaultServiceName = "authflow"

type PopupConfig struct {
	EventIDPrefix string `koanf:"event_id_prefix" mapstructure:"event_id_prefix"`
}

type RedirectConfig struct {
	// DiscardSettledResult drops a settled redirect result once it has been
	// handed out, so the next GetRedirectResult starts a fresh operation.
	DiscardSettledResult bool `koanf:"discard_settled_result" mapstructure:"discard_settled_result"`
}

type EventsConfig struct {
	QuietDrops bool `koanf:"quiet_drops" mapstructure:"quiet_drops"`
}

type Config struct {
	ServiceName string         `koanf:"service_name" mapstructure:"service_name"`
	Popup       PopupConfig    `koanf:"popup" mapstructure:"popup"`
	Redirect    RedirectConfig `koanf:"redirect" mapstructure:"redirect"`
	Events      EventsConfig   `koanf:"events" mapstructure:"events"`
}

func DefaultConfig() Config {
	return Config{
		ServiceName: defaultServiceName,
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		return fmt.Errorf("core: service_name is required")
	}
	if strings.ContainsAny(c.Popup.EventIDPrefix, " \t\r\n") {
		return fmt.Errorf("core: popup.event_id_prefix must not contain whitespace")
	}
	return nil
}
