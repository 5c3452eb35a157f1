package config

import (
	"os"
	"strconv"
	"time"
)

// Timeouts bounds every polling loop in the provisioners. Attempts and
// delays differ per family because the control plane's latency profiles
// differ: filesystems take minutes, identity propagation takes seconds.
type Timeouts struct {
	FilesystemAttempts   int
	FilesystemDelay      time.Duration
	MountTargetAttempts  int
	MountTargetDelay     time.Duration
	IdentityAttempts     int
	IdentityDelay        time.Duration
	InstanceAttempts     int
	InstanceDelay        time.Duration
	TargetHealthAttempts int
	TargetHealthDelay    time.Duration
}

// LoadTimeouts returns defaults, with attempt counts overridable via
// STACKTIER_*_ATTEMPTS environment variables for slow regions.
func LoadTimeouts() *Timeouts {
	t := &Timeouts{
		FilesystemAttempts:   60,
		FilesystemDelay:      5 * time.Second,
		MountTargetAttempts:  60,
		MountTargetDelay:     5 * time.Second,
		IdentityAttempts:     30,
		IdentityDelay:        2 * time.Second,
		InstanceAttempts:     40,
		InstanceDelay:        5 * time.Second,
		TargetHealthAttempts: 30,
		TargetHealthDelay:    10 * time.Second,
	}
	t.FilesystemAttempts = envInt("STACKTIER_FILESYSTEM_ATTEMPTS", t.FilesystemAttempts)
	t.IdentityAttempts = envInt("STACKTIER_IDENTITY_ATTEMPTS", t.IdentityAttempts)
	t.InstanceAttempts = envInt("STACKTIER_INSTANCE_ATTEMPTS", t.InstanceAttempts)
	t.TargetHealthAttempts = envInt("STACKTIER_TARGET_HEALTH_ATTEMPTS", t.TargetHealthAttempts)
	return t
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}
