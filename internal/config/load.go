package config

import (
	"bytes"
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

var validate = validator.New()

// Load reads, defaults and validates a configuration file. Unknown fields
// are rejected so typos surface at load time instead of provisioning time.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates raw configuration bytes.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyDefaults()

	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if err := cfg.checkConsistency(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// checkConsistency verifies cross-field constraints the tag validator
// cannot express.
func (c *Config) checkConsistency() error {
	if c.Reuse.NetworkID != "" && c.Network.CIDR != "" {
		return fmt.Errorf("invalid config: network.cidr and reuse.network_id are mutually exclusive")
	}
	if c.Reuse.SecurityGroupID != "" && c.Reuse.NetworkID == "" {
		return fmt.Errorf("invalid config: reuse.security_group_id requires reuse.network_id")
	}
	if len(c.Reuse.SubnetIDs) > 0 && c.Reuse.NetworkID == "" {
		return fmt.Errorf("invalid config: reuse.subnet_ids requires reuse.network_id")
	}
	if c.Tier == TierBasic && c.Compute.Count > 1 {
		return fmt.Errorf("invalid config: tier %q supports a single instance, got count=%d", c.Tier, c.Compute.Count)
	}
	return nil
}
