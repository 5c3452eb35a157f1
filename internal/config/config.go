package config

// Tier selects a deployment profile. Higher tiers provision more of the
// optional resources.
type Tier string

const (
	// TierBasic provisions network, storage, identity and a single
	// on-demand instance.
	TierBasic Tier = "basic"
	// TierStandard adds multi-instance compute with spot optimization.
	TierStandard Tier = "standard"
	// TierHA adds an application load balancer in front of the instances.
	TierHA Tier = "ha"
)

// Config is the full deployment configuration for one stack.
type Config struct {
	Stack  string `yaml:"stack" validate:"required,hostname_rfc1123,max=40"`
	Tier   Tier   `yaml:"tier" validate:"required,oneof=basic standard ha"`
	Region string `yaml:"region" validate:"required"`

	Network      NetworkConfig      `yaml:"network"`
	Storage      StorageConfig      `yaml:"storage"`
	Compute      ComputeConfig      `yaml:"compute" validate:"required"`
	LoadBalancer LoadBalancerConfig `yaml:"load_balancer"`

	// Reuse names resources the user supplies instead of having them
	// created. Reused resources are validated, never destroyed.
	Reuse ReuseConfig `yaml:"reuse"`

	// BootstrapScript is the rendered instance bootstrap payload. It is
	// set by the caller after template rendering and passed through to the
	// launch call unmodified; this tool never parses it.
	BootstrapScript string `yaml:"-"`
}

// NetworkConfig describes the VPC layout.
type NetworkConfig struct {
	CIDR        string   `yaml:"cidr" validate:"omitempty,cidrv4"`
	SubnetCIDRs []string `yaml:"subnet_cidrs" validate:"omitempty,dive,cidrv4"`
	Zones       []string `yaml:"zones"`

	// IngressPorts are opened on the security group. Defaults to 22 and
	// the load balancer port for HA tiers.
	IngressPorts []int32 `yaml:"ingress_ports" validate:"omitempty,dive,min=1,max=65535"`
}

// StorageConfig describes the shared filesystem.
type StorageConfig struct {
	PerformanceMode string `yaml:"performance_mode" validate:"omitempty,oneof=generalPurpose maxIO"`
	Encrypted       bool   `yaml:"encrypted"`
}

// ComputeConfig describes the instance fleet.
type ComputeConfig struct {
	InstanceType string `yaml:"instance_type" validate:"required"`
	Count        int    `yaml:"count" validate:"min=1,max=20"`
	OSFamily     string `yaml:"os_family" validate:"omitempty,oneof=amazon-linux-2023 amazon-linux-2 ubuntu-22.04"`
	Architecture string `yaml:"architecture" validate:"omitempty,oneof=x86_64 arm64"`

	Spot SpotConfig `yaml:"spot"`
}

// SpotConfig controls cost-optimized placement.
type SpotConfig struct {
	Enabled bool `yaml:"enabled"`

	// CandidateTypes widens the instance family search beyond
	// Compute.InstanceType. Empty means only the primary type.
	CandidateTypes []string `yaml:"candidate_types"`

	// RiskTolerance maps to a minimum acceptable placement score:
	// low=8, medium=5, high=3.
	RiskTolerance string `yaml:"risk_tolerance" validate:"omitempty,oneof=low medium high"`
}

// LoadBalancerConfig applies to the HA tier only.
type LoadBalancerConfig struct {
	Port            int32  `yaml:"port" validate:"omitempty,min=1,max=65535"`
	HealthCheckPath string `yaml:"health_check_path"`
}

// ReuseConfig names user-supplied resources.
type ReuseConfig struct {
	NetworkID       string   `yaml:"network_id"`
	SubnetIDs       []string `yaml:"subnet_ids"`
	SecurityGroupID string   `yaml:"security_group_id"`
}

// WantsLoadBalancer reports whether the tier provisions load balancing.
func (c *Config) WantsLoadBalancer() bool {
	return c.Tier == TierHA
}

// WantsSpot reports whether spot placement should be attempted.
func (c *Config) WantsSpot() bool {
	return c.Compute.Spot.Enabled && c.Tier != TierBasic
}

// applyDefaults fills zero values before validation.
func (c *Config) applyDefaults() {
	if c.Network.CIDR == "" && c.Reuse.NetworkID == "" {
		c.Network.CIDR = "10.42.0.0/16"
	}
	if len(c.Network.SubnetCIDRs) == 0 && len(c.Reuse.SubnetIDs) == 0 && c.Reuse.NetworkID == "" {
		c.Network.SubnetCIDRs = []string{"10.42.1.0/24", "10.42.2.0/24"}
	}
	// The load balancer port must be defaulted before it is folded into the
	// default ingress ports.
	if c.LoadBalancer.Port == 0 {
		c.LoadBalancer.Port = 80
	}
	if len(c.Network.IngressPorts) == 0 {
		c.Network.IngressPorts = []int32{22}
		if c.WantsLoadBalancer() {
			c.Network.IngressPorts = append(c.Network.IngressPorts, c.LoadBalancer.Port)
		}
	}
	if c.Storage.PerformanceMode == "" {
		c.Storage.PerformanceMode = "generalPurpose"
	}
	if c.Compute.Count == 0 {
		c.Compute.Count = 1
	}
	if c.Compute.OSFamily == "" {
		c.Compute.OSFamily = "amazon-linux-2023"
	}
	if c.Compute.Architecture == "" {
		c.Compute.Architecture = "x86_64"
	}
	if c.Compute.Spot.RiskTolerance == "" {
		c.Compute.Spot.RiskTolerance = "medium"
	}
	if c.LoadBalancer.HealthCheckPath == "" {
		c.LoadBalancer.HealthCheckPath = "/healthz"
	}
}
