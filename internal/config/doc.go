// Package config defines the deployment configuration model.
//
// A configuration file describes one stack: its tier, region, network
// layout, storage, compute shape, and any user-supplied resources to reuse
// instead of create. The whole document is validated at load time, before
// any provisioning begins, so user errors never leave partial resources
// behind.
package config
