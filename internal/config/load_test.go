package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalYAML = `
stack: web
tier: basic
region: us-east-1
compute:
  instance_type: t3.micro
`

func TestParseAppliesDefaults(t *testing.T) {
	t.Parallel()
	cfg, err := Parse([]byte(minimalYAML))
	require.NoError(t, err)

	assert.Equal(t, "web", cfg.Stack)
	assert.Equal(t, TierBasic, cfg.Tier)
	assert.Equal(t, "10.42.0.0/16", cfg.Network.CIDR)
	assert.Len(t, cfg.Network.SubnetCIDRs, 2)
	assert.Equal(t, 1, cfg.Compute.Count)
	assert.Equal(t, "amazon-linux-2023", cfg.Compute.OSFamily)
	assert.Equal(t, "x86_64", cfg.Compute.Architecture)
	assert.Equal(t, "generalPurpose", cfg.Storage.PerformanceMode)
	assert.Equal(t, "medium", cfg.Compute.Spot.RiskTolerance)
	assert.False(t, cfg.WantsLoadBalancer())
}

func TestParseHATierWantsLoadBalancer(t *testing.T) {
	t.Parallel()
	cfg, err := Parse([]byte(`
stack: web
tier: ha
region: us-east-1
compute:
  instance_type: m5.large
  count: 3
  spot:
    enabled: true
    risk_tolerance: low
`))
	require.NoError(t, err)
	assert.True(t, cfg.WantsLoadBalancer())
	assert.True(t, cfg.WantsSpot())
	assert.Equal(t, int32(80), cfg.LoadBalancer.Port)
	assert.Contains(t, cfg.Network.IngressPorts, int32(80))
}

func TestParseRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	_, err := Parse([]byte(`
stack: web
tier: basic
region: us-east-1
compute:
  instance_type: t3.micro
typo_field: true
`))
	assert.Error(t, err)
}

func TestParseRejectsMissingRequired(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		yaml string
	}{
		{"missing stack", "tier: basic\nregion: us-east-1\ncompute:\n  instance_type: t3.micro\n"},
		{"bad tier", "stack: web\ntier: mega\nregion: us-east-1\ncompute:\n  instance_type: t3.micro\n"},
		{"missing instance type", "stack: web\ntier: basic\nregion: us-east-1\ncompute:\n  count: 1\n"},
		{"bad cidr", "stack: web\ntier: basic\nregion: us-east-1\nnetwork:\n  cidr: not-a-cidr\ncompute:\n  instance_type: t3.micro\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Parse([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestParseReuseConsistency(t *testing.T) {
	t.Parallel()

	// Supplying a security group without its network is inconsistent.
	_, err := Parse([]byte(`
stack: web
tier: basic
region: us-east-1
compute:
  instance_type: t3.micro
reuse:
  security_group_id: sg-0abc
`))
	require.Error(t, err)

	cfg, err := Parse([]byte(`
stack: web
tier: basic
region: us-east-1
compute:
  instance_type: t3.micro
reuse:
  network_id: vpc-0abc
  security_group_id: sg-0abc
  subnet_ids: [subnet-1, subnet-2]
`))
	require.NoError(t, err)
	assert.Empty(t, cfg.Network.CIDR, "reused network must not get a default CIDR")
}

func TestParseBasicTierRejectsMultipleInstances(t *testing.T) {
	t.Parallel()
	_, err := Parse([]byte(`
stack: web
tier: basic
region: us-east-1
compute:
  instance_type: t3.micro
  count: 3
`))
	assert.Error(t, err)
}

func TestLoadTimeoutsDefaults(t *testing.T) {
	tm := LoadTimeouts()
	assert.Equal(t, 60, tm.FilesystemAttempts)
	assert.Equal(t, 30, tm.IdentityAttempts)

	t.Setenv("STACKTIER_IDENTITY_ATTEMPTS", "7")
	tm = LoadTimeouts()
	assert.Equal(t, 7, tm.IdentityAttempts)

	t.Setenv("STACKTIER_IDENTITY_ATTEMPTS", "junk")
	tm = LoadTimeouts()
	assert.Equal(t, 30, tm.IdentityAttempts)
}
