// Package state defines the persisted deployment state model and its
// storage backends.
//
// One JSON document exists per stack. The document is written synchronously
// after every completed workflow step so a crashed or cancelled run can be
// resumed or rolled back from what was actually confirmed, never from what
// was merely attempted. State is retained after teardown for audit.
package state
