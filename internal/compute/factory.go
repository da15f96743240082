// Package compute builds the provisioner selected by configuration.
package compute

import (
	"context"
	"fmt"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsec2 "github.com/aws/aws-sdk-go-v2/service/ec2"
	"golang.org/x/oauth2/google"
	gceapi "google.golang.org/api/compute/v1"
	"google.golang.org/api/option"

	"launchpad/internal/compute/docker"
	"launchpad/internal/compute/ec2"
	"launchpad/internal/compute/gce"
	"launchpad/internal/config"
	"launchpad/internal/pkg/logger"
	"launchpad/internal/ports"
)

func NewProvisioner(ctx context.Context, cfg config.LauncherConfig, log *logger.Logger) (ports.Provisioner, error) {
	switch cfg.Provider {
	case config.ProviderEC2:
		return newEC2(ctx, cfg)
	case config.ProviderGCE:
		return newGCE(ctx, cfg)
	case "", config.ProviderDocker:
		cli, err := docker.NewClient(cfg.Docker.Host)
		if err != nil {
			return nil, fmt.Errorf("docker client: %w", err)
		}
		return docker.New(cli, docker.Options{Network: cfg.Docker.Network, Binds: cfg.Docker.Binds}, log), nil
	default:
		return nil, fmt.Errorf("unknown compute provider: %s", cfg.Provider)
	}
}

func newEC2(ctx context.Context, cfg config.LauncherConfig) (ports.Provisioner, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return ec2.New(awsec2.NewFromConfig(awsCfg)), nil
}

func newGCE(ctx context.Context, cfg config.LauncherConfig) (ports.Provisioner, error) {
	opts := []option.ClientOption{}
	if cfg.GCE.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.GCE.Endpoint), option.WithoutAuthentication())
	} else {
		creds, err := google.FindDefaultCredentials(ctx, gceapi.ComputeScope)
		if err != nil {
			return nil, fmt.Errorf("find google credentials: %w", err)
		}
		opts = append(opts, option.WithTokenSource(creds.TokenSource))
	}

	svc, err := gceapi.NewService(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return gce.New(svc, gce.Options{
		Project:        cfg.GCE.Project,
		Zone:           cfg.GCE.Zone,
		Network:        cfg.GCE.Network,
		MaxRunDuration: cfg.GCE.MaxRunDuration,
	}), nil
}
