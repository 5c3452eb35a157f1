// Package aws wraps the AWS control-plane SDK clients behind narrow
// interfaces so provisioners can be exercised against mocks, and
// centralizes classification of API error codes into retryable and fatal
// classes.
package aws
