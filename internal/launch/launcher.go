// Package launch turns a work item into a disposable compute instance: it
// renders the bootstrap script for the item and asks the configured
// provisioner for exactly one instance that runs it.
package launch

import (
	"context"
	"encoding/base64"

	"launchpad/internal/pkg/errors"
	"launchpad/internal/pkg/logger"
	"launchpad/internal/ports"
)

// Spec is the fixed per-deployment instance configuration.
type Spec struct {
	ImageID         string
	InstanceType    string
	KeyName         string
	InstanceProfile string
	SecurityGroups  []string
	Monitoring      bool
	// TerminateOnShutdown makes the instance delete itself once the
	// bootstrap script powers it off.
	TerminateOnShutdown bool
}

// Handle identifies the instance started for an item.
type Handle struct {
	ItemID         string `json:"item_id"`
	Provider       string `json:"provider"`
	InstanceID     string `json:"instance_id"`
	IdempotencyKey string `json:"idempotency_key"`
}

type Launcher struct {
	prov      ports.Provisioner
	spec      Spec
	bootstrap Bootstrap
	log       *logger.Logger
}

func NewLauncher(prov ports.Provisioner, spec Spec, bootstrap Bootstrap, log *logger.Logger) (*Launcher, error) {
	if prov == nil {
		return nil, errors.Internal("launcher needs a provisioner")
	}
	if _, err := fetchCommand(bootstrap.ScriptURL); err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Launcher{prov: prov, spec: spec, bootstrap: bootstrap, log: log.WithComponent("launcher")}, nil
}

// Provider names the compute backend in use.
func (l *Launcher) Provider() string {
	return l.prov.Provider()
}

// Launch requests one instance for itemID and returns once the provider has
// acknowledged it. It does not wait for the instance to boot or for the
// processing script to finish.
func (l *Launcher) Launch(ctx context.Context, itemID string) (Handle, error) {
	script, err := l.bootstrap.Render(itemID)
	if err != nil {
		return Handle{}, err
	}

	key := IdempotencyKey(itemID)
	log := l.log.FromContext(ctx).WithItemID(itemID)

	out, err := l.prov.RunInstances(ctx, ports.RunInstancesInput{
		ItemID:              itemID,
		UserData:            base64.StdEncoding.EncodeToString([]byte(script)),
		ImageID:             l.spec.ImageID,
		InstanceType:        l.spec.InstanceType,
		KeyName:             l.spec.KeyName,
		InstanceProfile:     l.spec.InstanceProfile,
		SecurityGroups:      l.spec.SecurityGroups,
		MinCount:            1,
		MaxCount:            1,
		ClientToken:         key,
		Monitoring:          l.spec.Monitoring,
		TerminateOnShutdown: l.spec.TerminateOnShutdown,
	})
	if err != nil {
		return Handle{}, errors.Provisioning(err, "launcher.run_instances", "provisioning request failed").
			WithFields(map[string]any{"provider": l.prov.Provider(), "client_token": key})
	}
	if len(out.InstanceIDs) == 0 {
		return Handle{}, errors.Provisioning(nil, "launcher.run_instances", "provisioning returned no instances").
			WithField("provider", l.prov.Provider())
	}
	if len(out.InstanceIDs) > 1 {
		log.Warn("provider returned more than one instance", "instances", out.InstanceIDs)
	}

	h := Handle{
		ItemID:         itemID,
		Provider:       l.prov.Provider(),
		InstanceID:     out.InstanceIDs[0],
		IdempotencyKey: key,
	}
	log.Info("instance launched", "provider", h.Provider, "instance_id", h.InstanceID)
	return h, nil
}
