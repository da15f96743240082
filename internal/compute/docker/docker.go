// Package docker provisions workers as local containers. It is the default
// backend for development and for running the pipeline on a single host.
package docker

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"

	cerrdefs "github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/go-units"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"launchpad/internal/pkg/errors"
	"launchpad/internal/pkg/logger"
	"launchpad/internal/ports"
)

const (
	ItemLabel = "launchpad.item-id"
	KeyLabel  = "launchpad.idempotency-key"
)

// API is the subset of the Docker client the provisioner uses.
type API interface {
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerInspect(ctx context.Context, containerID string) (container.InspectResponse, error)
	ImagePull(ctx context.Context, refStr string, options image.PullOptions) (io.ReadCloser, error)
}

type Options struct {
	// Network is the network containers join. Empty uses the default bridge.
	Network string
	// Binds are host mounts, e.g. the local object store root so that
	// file:// script locations resolve inside the container.
	Binds []string
}

type Provisioner struct {
	api  API
	opts Options
	log  *logger.Logger
}

var _ ports.Provisioner = (*Provisioner)(nil)

func New(api API, opts Options, log *logger.Logger) *Provisioner {
	if log == nil {
		log = logger.Discard()
	}
	return &Provisioner{api: api, opts: opts, log: log.WithComponent("docker")}
}

// NewClient connects to the daemon from DOCKER_HOST or host, negotiating
// the API version.
func NewClient(host string) (*client.Client, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if host != "" {
		opts = append(opts, client.WithHost(host))
	}
	return client.NewClientWithOpts(opts...)
}

func (p *Provisioner) Provider() string { return "docker" }

// ContainerName is the container name used for an idempotency key.
func ContainerName(key string) string {
	return "launchpad-" + key
}

// RunInstances starts one container running the bootstrap script. The
// container name carries the idempotency key, so a repeated request adopts
// the container the first one created. InstanceType is the memory limit
// ("512m", "1g").
func (p *Provisioner) RunInstances(ctx context.Context, in ports.RunInstancesInput) (ports.RunInstancesOutput, error) {
	script, err := base64.StdEncoding.DecodeString(in.UserData)
	if err != nil {
		return ports.RunInstancesOutput{}, fmt.Errorf("decode user data: %w", err)
	}

	var memory int64
	if in.InstanceType != "" {
		memory, err = units.RAMInBytes(in.InstanceType)
		if err != nil {
			return ports.RunInstancesOutput{}, errors.ValidationField("instance_type", "docker instance type must be a memory size like 512m")
		}
	}

	name := ""
	if in.ClientToken != "" {
		name = ContainerName(in.ClientToken)
	}

	cfg := &container.Config{
		Image: in.ImageID,
		Cmd:   []string{"/bin/sh", "-c", string(script)},
		Labels: map[string]string{
			ItemLabel: in.ItemID,
			KeyLabel:  in.ClientToken,
		},
	}
	host := &container.HostConfig{
		AutoRemove: in.TerminateOnShutdown,
		Binds:      p.opts.Binds,
		ExtraHosts: []string{"host.docker.internal:host-gateway"},
		Resources:  container.Resources{Memory: memory},
	}
	if p.opts.Network != "" {
		host.NetworkMode = container.NetworkMode(p.opts.Network)
	}

	resp, err := p.api.ContainerCreate(ctx, cfg, host, nil, nil, name)
	if cerrdefs.IsNotFound(err) {
		if perr := p.pull(ctx, in.ImageID); perr != nil {
			return ports.RunInstancesOutput{}, perr
		}
		resp, err = p.api.ContainerCreate(ctx, cfg, host, nil, nil, name)
	}
	if cerrdefs.IsConflict(err) && name != "" {
		return p.adopt(ctx, name)
	}
	if err != nil {
		return ports.RunInstancesOutput{}, fmt.Errorf("create container: %w", err)
	}

	if err := p.api.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return ports.RunInstancesOutput{}, fmt.Errorf("start container: %w", err)
	}

	p.log.Debug("container started", "item_id", in.ItemID, "container_id", resp.ID, "name", name)
	return ports.RunInstancesOutput{InstanceIDs: []string{resp.ID}}, nil
}

func (p *Provisioner) pull(ctx context.Context, ref string) error {
	p.log.Info("pulling image", "image", ref)
	rc, err := p.api.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("pull image %s: %w", ref, err)
	}
	defer rc.Close()
	// The pull completes only once the progress stream is drained.
	if _, err := io.Copy(io.Discard, rc); err != nil {
		return fmt.Errorf("pull image %s: %w", ref, err)
	}
	return nil
}

// adopt returns the container an earlier request created under name,
// starting it if that request failed between create and start.
func (p *Provisioner) adopt(ctx context.Context, name string) (ports.RunInstancesOutput, error) {
	info, err := p.api.ContainerInspect(ctx, name)
	if err != nil {
		return ports.RunInstancesOutput{}, fmt.Errorf("inspect container %s: %w", name, err)
	}
	if info.ContainerJSONBase != nil && info.State != nil && string(info.State.Status) == "created" {
		if err := p.api.ContainerStart(ctx, info.ID, container.StartOptions{}); err != nil {
			return ports.RunInstancesOutput{}, fmt.Errorf("start container: %w", err)
		}
	}
	p.log.Info("adopted existing container", "name", name, "container_id", info.ID)
	return ports.RunInstancesOutput{InstanceIDs: []string{info.ID}}, nil
}
