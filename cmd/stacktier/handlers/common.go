// Package handlers implements the business logic for CLI commands.
//
// This package contains handler functions that are called by command
// definitions in the commands package. Handlers are framework-agnostic and
// can be tested independently of the CLI framework.
package handlers

import (
	"context"
	"fmt"
	"io"
	"os"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/stacktier/stacktier/internal/config"
	platformaws "github.com/stacktier/stacktier/internal/platform/aws"
	"github.com/stacktier/stacktier/internal/state"
	"github.com/stacktier/stacktier/internal/workflow"
)

const defaultConfigFile = "stacktier.yaml"

// Deployer interface for testing - matches workflow.Workflow.
type Deployer interface {
	Deploy(ctx context.Context) (*state.DeploymentState, error)
	Destroy(ctx context.Context) (*state.DeploymentState, error)
}

// Factory function variables - can be replaced in tests for dependency
// injection.
var (
	// loadConfigFile loads and validates a stack configuration.
	loadConfigFile = config.Load

	// newStore opens the state store backing all commands. Setting
	// STACKTIER_STATE_S3_BUCKET selects the S3 backend so several
	// operators can share one set of stacks; the default is a per-user
	// file store.
	newStore = func(ctx context.Context) (state.Store, error) {
		if bucket := os.Getenv("STACKTIER_STATE_S3_BUCKET"); bucket != "" {
			cfg, err := awsconfig.LoadDefaultConfig(ctx)
			if err != nil {
				return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
			}
			return state.NewS3Store(s3.NewFromConfig(cfg), bucket, os.Getenv("STACKTIER_STATE_S3_PREFIX")), nil
		}
		dir, err := state.DefaultStateDir()
		if err != nil {
			return nil, err
		}
		return state.NewFileStore(dir)
	}

	// newClients builds AWS service clients for a region.
	newClients = func(ctx context.Context, region string) (*platformaws.Clients, error) {
		opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
		if key := os.Getenv("STACKTIER_ACCESS_KEY_ID"); key != "" {
			opts = append(opts, awsconfig.WithCredentialsProvider(
				credentials.NewStaticCredentialsProvider(key,
					os.Getenv("STACKTIER_SECRET_ACCESS_KEY"), "")))
		}
		cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
		}
		return platformaws.NewClients(cfg), nil
	}

	// newWorkflow builds the deployment workflow.
	newWorkflow = func(cfg *config.Config, store state.Store, clients *platformaws.Clients) Deployer {
		return workflow.New(cfg, store, clients)
	}

	// stdout is the handler output stream (for testing injection).
	stdout io.Writer = os.Stdout
)

// loadStackConfig resolves the config path and loads the stack
// configuration, defaulting to stacktier.yaml in the working directory.
func loadStackConfig(path string) (*config.Config, error) {
	if path == "" {
		path = defaultConfigFile
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("no config file found; pass one with --config or create %s", defaultConfigFile)
		}
	}
	cfg, err := loadConfigFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}
