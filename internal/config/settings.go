package config

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/gatenode-ai/gatenode/internal/validate"
)

// ConfigError indicates an invalid settings payload. It is surfaced to the
// caller and never retried.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("config: %s", e.Reason)
	}
	return fmt.Sprintf("config: %s: %s", e.Field, e.Reason)
}

// ProviderType identifies an upstream provider protocol family.
type ProviderType string

const (
	ProviderAnthropic ProviderType = "anthropic"
	ProviderOpenAI    ProviderType = "openai"
	ProviderCustom    ProviderType = "custom"
)

// Provider configures one upstream request-forwarding target.
type Provider struct {
	Name           string       `json:"name" yaml:"name"`
	Type           ProviderType `json:"type" yaml:"type"`
	BaseURL        string       `json:"base_url" yaml:"base_url"`
	APIKey         string       `json:"api_key,omitempty" yaml:"api_key,omitempty"`
	TimeoutSeconds int          `json:"timeout_seconds" yaml:"timeout_seconds"`
}

// ServerSettings configure the local HTTP listener.
type ServerSettings struct {
	Host             string   `json:"host" yaml:"host"`
	Port             int      `json:"port" yaml:"port"`
	CORSOrigins      []string `json:"cors_origins,omitempty" yaml:"cors_origins,omitempty"`
	AllowLocalBypass bool     `json:"allow_local_bypass" yaml:"allow_local_bypass"`
}

// ListenAddress returns the host:port string the HTTP listener binds to.
func (s ServerSettings) ListenAddress() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// TLSForwardSettings configure the outbound tunnel that exposes a public
// HTTPS endpoint through the relay mesh.
type TLSForwardSettings struct {
	Enabled           bool     `json:"enabled" yaml:"enabled"`
	RelayAddresses    []string `json:"relay_addresses,omitempty" yaml:"relay_addresses,omitempty"`
	MaxConnections    int      `json:"max_connections" yaml:"max_connections"`
	HeartbeatSeconds  int      `json:"heartbeat_seconds" yaml:"heartbeat_seconds"`
	AutoReconnect     bool     `json:"auto_reconnect" yaml:"auto_reconnect"`
	MaxReconnects     int      `json:"max_reconnects" yaml:"max_reconnects"`
	ReconnectBackoff  int      `json:"reconnect_backoff_seconds" yaml:"reconnect_backoff_seconds"`
	RenewBeforeExpiry int      `json:"renew_before_expiry_days" yaml:"renew_before_expiry_days"`
}

// Settings is the full node configuration snapshot. Exactly one live copy
// exists, owned by the daemon actor; every reader gets a value copy.
type Settings struct {
	Server     ServerSettings     `json:"server" yaml:"server"`
	Providers  []Provider         `json:"providers,omitempty" yaml:"providers,omitempty"`
	TLSForward TLSForwardSettings `json:"tlsforward" yaml:"tlsforward"`
}

// DefaultSettings returns the configuration a fresh node starts with.
func DefaultSettings() Settings {
	return Settings{
		Server: ServerSettings{
			Host:             "localhost",
			Port:             31145,
			AllowLocalBypass: true,
		},
		TLSForward: TLSForwardSettings{
			MaxConnections:    1000,
			HeartbeatSeconds:  30,
			AutoReconnect:     true,
			MaxReconnects:     10,
			ReconnectBackoff:  5,
			RenewBeforeExpiry: 30,
		},
	}
}

// Clone returns a deep copy. Callers outside the actor must never hold
// references into the live value.
func (s Settings) Clone() Settings {
	out := s
	if s.Server.CORSOrigins != nil {
		out.Server.CORSOrigins = append([]string(nil), s.Server.CORSOrigins...)
	}
	if s.Providers != nil {
		out.Providers = append([]Provider(nil), s.Providers...)
	}
	if s.TLSForward.RelayAddresses != nil {
		out.TLSForward.RelayAddresses = append([]string(nil), s.TLSForward.RelayAddresses...)
	}
	return out
}

// Validate rejects payloads that cannot become the live configuration.
func (s Settings) Validate() error {
	if strings.TrimSpace(s.Server.Host) == "" {
		return &ConfigError{Field: "server.host", Reason: "must not be empty"}
	}
	if s.Server.Port <= 0 || s.Server.Port > 65535 {
		return &ConfigError{Field: "server.port", Reason: fmt.Sprintf("invalid port %d", s.Server.Port)}
	}
	seen := make(map[string]struct{}, len(s.Providers))
	for i, p := range s.Providers {
		field := fmt.Sprintf("providers[%d]", i)
		if !validate.Ident(p.Name) {
			return &ConfigError{Field: field + ".name", Reason: fmt.Sprintf("invalid provider name %q", p.Name)}
		}
		if _, dup := seen[p.Name]; dup {
			return &ConfigError{Field: field + ".name", Reason: fmt.Sprintf("duplicate provider %q", p.Name)}
		}
		seen[p.Name] = struct{}{}
		switch p.Type {
		case ProviderAnthropic, ProviderOpenAI, ProviderCustom:
		default:
			return &ConfigError{Field: field + ".type", Reason: fmt.Sprintf("unknown provider type %q", p.Type)}
		}
		if err := validate.HTTPURL(p.BaseURL); err != nil {
			return &ConfigError{Field: field + ".base_url", Reason: err.Error()}
		}
	}
	if s.TLSForward.Enabled && len(s.TLSForward.RelayAddresses) == 0 {
		return &ConfigError{Field: "tlsforward.relay_addresses", Reason: "required when tlsforward is enabled"}
	}
	for i, addr := range s.TLSForward.RelayAddresses {
		if err := validate.HostPort(addr); err != nil {
			return &ConfigError{Field: fmt.Sprintf("tlsforward.relay_addresses[%d]", i), Reason: err.Error()}
		}
	}
	return nil
}
