// Package retry provides the polling and retry primitives used by all
// resource provisioners.
//
// [Poll] drives "describe until target state" loops with success and fatal
// predicates. [WithExponentialBackoff] retries transient control-plane call
// failures. [Attempt] retries a bounded number of times on a caller-matched
// error class, for cross-service propagation delays.
package retry
