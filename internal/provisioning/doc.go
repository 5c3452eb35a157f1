// Package provisioning provides shared types and interfaces for stack
// provisioning.
//
// The provisioning domain is organized into focused subpackages:
//   - network/ — VPC, subnets, security group
//   - storage/ — shared filesystem and mount targets
//   - identity/ — instance role and profile
//   - compute/ — key pair, image resolution, instance fleet
//   - loadbalancer/ — application load balancer, target group, listener
//
// This root package contains the shared Context, the Observer used for
// progress reporting, pre-flight validation and the metrics collector.
package provisioning
