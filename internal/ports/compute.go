package ports

//go:generate mockgen -destination=mocks/mock_ports.go -package=mocks launchpad/internal/ports Provisioner,Ledger

import "context"

// RunInstancesInput mirrors the provider-neutral part of a compute launch.
type RunInstancesInput struct {
	ItemID string
	// UserData is the base64-encoded bootstrap script.
	UserData        string
	ImageID         string
	InstanceType    string
	KeyName         string
	InstanceProfile string
	SecurityGroups  []string
	MinCount        int32
	MaxCount        int32
	// ClientToken makes repeated requests for the same item return the
	// original instance instead of a new one.
	ClientToken         string
	Monitoring          bool
	TerminateOnShutdown bool
}

type RunInstancesOutput struct {
	InstanceIDs []string
}

// Provisioner creates disposable compute instances (ec2, gce, docker).
type Provisioner interface {
	Provider() string
	RunInstances(ctx context.Context, in RunInstancesInput) (RunInstancesOutput, error)
}
