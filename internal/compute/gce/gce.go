// Package gce provisions workers as Compute Engine instances.
//
// A guest shutdown only stops a Compute Engine instance; the stopped VM and
// its disk stay in the project. Workers delete themselves with
// SelfDeleteCommand once their script exits, which needs a service account
// (InstanceProfile) allowed to delete instances. MaxRunDuration with a DELETE
// termination action is the backstop for workers that never get that far.
package gce

import (
	"context"
	"encoding/base64"
	stderrors "errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	compute "google.golang.org/api/compute/v1"
	"google.golang.org/api/googleapi"

	"launchpad/internal/launch"
	"launchpad/internal/ports"
)

const (
	startupScriptKey = "startup-script"
	itemIDKey        = "launchpad-item-id"
	defaultNetwork   = "global/networks/default"
)

// metadataURL is the guest's view of its own instance metadata.
const metadataURL = "http://metadata.google.internal/computeMetadata/v1/instance"

// SelfDeleteCommand deletes the instance it runs on, looking up its name
// and zone from the metadata server.
const SelfDeleteCommand = `gcloud compute instances delete ` +
	`"$(curl -fsS -H 'Metadata-Flavor: Google' ` + metadataURL + `/name)" ` +
	`--zone "$(curl -fsS -H 'Metadata-Flavor: Google' ` + metadataURL + `/zone | cut -d/ -f4)" --quiet`

type Options struct {
	Project string
	Zone    string
	// Network defaults to the project's default network.
	Network string
	// MaxRunDuration bounds the instance lifetime. Zero means no limit.
	MaxRunDuration time.Duration
}

type Provisioner struct {
	svc  *compute.Service
	opts Options
}

var _ ports.Provisioner = (*Provisioner)(nil)

func New(svc *compute.Service, opts Options) *Provisioner {
	if opts.Network == "" {
		opts.Network = defaultNetwork
	}
	return &Provisioner{svc: svc, opts: opts}
}

func (p *Provisioner) Provider() string { return "gce" }

// InstanceName is the instance name used for an idempotency key.
func InstanceName(key string) string {
	return "launchpad-" + strings.ToLower(key)
}

// RunInstances inserts one instance named after the idempotency key. A
// second request for the same key returns the existing instance. KeyName
// has no Compute Engine counterpart and is ignored.
func (p *Provisioner) RunInstances(ctx context.Context, in ports.RunInstancesInput) (ports.RunInstancesOutput, error) {
	script, err := base64.StdEncoding.DecodeString(in.UserData)
	if err != nil {
		return ports.RunInstancesOutput{}, fmt.Errorf("decode user data: %w", err)
	}

	name := InstanceName(in.ClientToken)
	startup := string(script)
	itemID := in.ItemID

	inst := &compute.Instance{
		Name:        name,
		MachineType: fmt.Sprintf("zones/%s/machineTypes/%s", p.opts.Zone, in.InstanceType),
		Disks: []*compute.AttachedDisk{{
			Boot:       true,
			AutoDelete: true,
			InitializeParams: &compute.AttachedDiskInitializeParams{
				SourceImage: in.ImageID,
			},
		}},
		NetworkInterfaces: []*compute.NetworkInterface{{
			Network: p.opts.Network,
			AccessConfigs: []*compute.AccessConfig{{
				Name: "External NAT",
				Type: "ONE_TO_ONE_NAT",
			}},
		}},
		Metadata: &compute.Metadata{Items: []*compute.MetadataItems{
			{Key: startupScriptKey, Value: &startup},
			{Key: itemIDKey, Value: &itemID},
		}},
		Labels: map[string]string{"launchpad-key": strings.ToLower(in.ClientToken)},
		Scheduling: &compute.Scheduling{
			AutomaticRestart: googleapi.Bool(false),
		},
	}
	if in.TerminateOnShutdown {
		inst.Scheduling.InstanceTerminationAction = "DELETE"
	}
	if p.opts.MaxRunDuration > 0 {
		inst.Scheduling.MaxRunDuration = &compute.Duration{Seconds: int64(p.opts.MaxRunDuration / time.Second)}
	}
	if len(in.SecurityGroups) > 0 {
		inst.Tags = &compute.Tags{Items: in.SecurityGroups}
	}
	if in.InstanceProfile != "" {
		inst.ServiceAccounts = []*compute.ServiceAccount{{
			Email:  in.InstanceProfile,
			Scopes: []string{compute.CloudPlatformScope},
		}}
	}

	call := p.svc.Instances.Insert(p.opts.Project, p.opts.Zone, inst).Context(ctx)
	if in.ClientToken != "" {
		call = call.RequestId(launch.RequestUUID(in.ClientToken))
	}

	op, err := call.Do()
	if err != nil {
		if isAlreadyExists(err) {
			return p.existing(ctx, name)
		}
		return ports.RunInstancesOutput{}, fmt.Errorf("gce insert instance: %w", err)
	}
	if op.Error != nil && len(op.Error.Errors) > 0 {
		return ports.RunInstancesOutput{}, fmt.Errorf("gce insert instance: %s", op.Error.Errors[0].Message)
	}
	if op.TargetId == 0 {
		return ports.RunInstancesOutput{}, nil
	}
	return ports.RunInstancesOutput{InstanceIDs: []string{strconv.FormatUint(op.TargetId, 10)}}, nil
}

func (p *Provisioner) existing(ctx context.Context, name string) (ports.RunInstancesOutput, error) {
	inst, err := p.svc.Instances.Get(p.opts.Project, p.opts.Zone, name).Context(ctx).Do()
	if err != nil {
		return ports.RunInstancesOutput{}, fmt.Errorf("gce get instance: %w", err)
	}
	return ports.RunInstancesOutput{InstanceIDs: []string{strconv.FormatUint(inst.Id, 10)}}, nil
}

func isAlreadyExists(err error) bool {
	var gerr *googleapi.Error
	return stderrors.As(err, &gerr) && gerr.Code == http.StatusConflict
}
