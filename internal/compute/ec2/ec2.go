// Package ec2 provisions workers as EC2 instances.
package ec2

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsec2 "github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"

	"launchpad/internal/ports"
)

// ItemTag is the instance tag carrying the work item id.
const ItemTag = "launchpad:item-id"

// API is the subset of the EC2 client the provisioner uses.
type API interface {
	RunInstances(ctx context.Context, in *awsec2.RunInstancesInput, optFns ...func(*awsec2.Options)) (*awsec2.RunInstancesOutput, error)
}

type Provisioner struct {
	api API
}

var _ ports.Provisioner = (*Provisioner)(nil)

func New(api API) *Provisioner {
	return &Provisioner{api: api}
}

func (p *Provisioner) Provider() string { return "ec2" }

func (p *Provisioner) RunInstances(ctx context.Context, in ports.RunInstancesInput) (ports.RunInstancesOutput, error) {
	req := &awsec2.RunInstancesInput{
		ImageId:      aws.String(in.ImageID),
		InstanceType: types.InstanceType(in.InstanceType),
		MinCount:     aws.Int32(in.MinCount),
		MaxCount:     aws.Int32(in.MaxCount),
		UserData:     aws.String(in.UserData),
		Monitoring:   &types.RunInstancesMonitoringEnabled{Enabled: aws.Bool(in.Monitoring)},
		TagSpecifications: []types.TagSpecification{{
			ResourceType: types.ResourceTypeInstance,
			Tags:         []types.Tag{{Key: aws.String(ItemTag), Value: aws.String(in.ItemID)}},
		}},
	}
	if in.ClientToken != "" {
		req.ClientToken = aws.String(in.ClientToken)
	}
	if in.KeyName != "" {
		req.KeyName = aws.String(in.KeyName)
	}
	if in.TerminateOnShutdown {
		req.InstanceInitiatedShutdownBehavior = types.ShutdownBehaviorTerminate
	}
	if in.InstanceProfile != "" {
		if strings.HasPrefix(in.InstanceProfile, "arn:") {
			req.IamInstanceProfile = &types.IamInstanceProfileSpecification{Arn: aws.String(in.InstanceProfile)}
		} else {
			req.IamInstanceProfile = &types.IamInstanceProfileSpecification{Name: aws.String(in.InstanceProfile)}
		}
	}
	// Group ids and group names go to different fields.
	for _, sg := range in.SecurityGroups {
		if strings.HasPrefix(sg, "sg-") {
			req.SecurityGroupIds = append(req.SecurityGroupIds, sg)
		} else {
			req.SecurityGroups = append(req.SecurityGroups, sg)
		}
	}

	out, err := p.api.RunInstances(ctx, req)
	if err != nil {
		return ports.RunInstancesOutput{}, fmt.Errorf("ec2 run instances: %w", err)
	}

	var res ports.RunInstancesOutput
	for _, inst := range out.Instances {
		if id := aws.ToString(inst.InstanceId); id != "" {
			res.InstanceIDs = append(res.InstanceIDs, id)
		}
	}
	return res, nil
}
