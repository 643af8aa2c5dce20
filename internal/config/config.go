// Package config loads and validates the host's configuration.
package config

import (
	"bufio"
	"fmt"
	"net/url"
	"os"
	"strings"
)

// HostConfig is the configuration accepted by host_create.
type HostConfig struct {
	Port               uint16
	IPv4Bind           string
	IPv6Bind           string
	MaxClients         int
	EncryptionEnabled  bool
	IdentityKeyPath    string
	Password           string
	ClientAllowlistHex []string // hex-encoded Ed25519 public keys
}

// Default returns the recognized defaults for a HostConfig.
func Default() HostConfig {
	return HostConfig{
		Port:              27224,
		MaxClients:        32,
		EncryptionEnabled: true,
	}
}

// Validate checks the configuration for internal consistency.
func (c HostConfig) Validate() error {
	if c.MaxClients <= 0 {
		return fmt.Errorf("max_clients must be positive, got %d", c.MaxClients)
	}
	if c.IPv4Bind == "" && c.IPv6Bind == "" {
		return fmt.Errorf("at least one of ipv4_bind or ipv6_bind must be set")
	}
	for _, h := range c.ClientAllowlistHex {
		if len(h) != 64 {
			return fmt.Errorf("allowlist entry %q is not a 32-byte hex-encoded public key", h)
		}
	}
	return nil
}

// Load reads key=value configuration from a .env-style file, overlaying it
// on top of Default(). Unknown keys are ignored; recognized keys mirror the
// HostConfig field names in snake_case.
func Load(envPath string) (HostConfig, error) {
	cfg := Default()

	file, err := os.Open(envPath)
	if err != nil {
		return cfg, fmt.Errorf("open env file: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		decoded, err := url.QueryUnescape(value)
		if err != nil {
			decoded = value
		}

		switch key {
		case "port":
			var p int
			if _, err := fmt.Sscanf(decoded, "%d", &p); err == nil {
				cfg.Port = uint16(p)
			}
		case "ipv4_bind":
			cfg.IPv4Bind = decoded
		case "ipv6_bind":
			cfg.IPv6Bind = decoded
		case "max_clients":
			var m int
			if _, err := fmt.Sscanf(decoded, "%d", &m); err == nil {
				cfg.MaxClients = m
			}
		case "encryption_enabled":
			cfg.EncryptionEnabled = decoded == "true" || decoded == "1"
		case "identity_key_path":
			cfg.IdentityKeyPath = decoded
		case "password":
			cfg.Password = decoded
		case "client_allowlist":
			if decoded != "" {
				cfg.ClientAllowlistHex = strings.Split(decoded, ",")
			}
		}
	}

	if err := scanner.Err(); err != nil {
		return cfg, fmt.Errorf("scan env file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}
