package worker

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"launchpad/internal/compute"
	"launchpad/internal/compute/gce"
	"launchpad/internal/config"
	"launchpad/internal/dispatch"
	"launchpad/internal/feed"
	"launchpad/internal/launch"
	"launchpad/internal/pkg/errors"
	"launchpad/internal/pkg/logger"
	"launchpad/internal/ports"
)

// bootstrapFor decides how a worker ends. Containers exit on their own and
// VMs power off. Compute Engine keeps stopped VMs, so those delete
// themselves when the launcher terminates on shutdown.
func bootstrapFor(provider string, l config.LauncherConfig, scriptURL string) launch.Bootstrap {
	b := launch.Bootstrap{
		ScriptURL:      scriptURL,
		CallbackURL:    l.CallbackURL,
		CallbackSecret: l.CallbackSecret,
		Shutdown:       provider != config.ProviderDocker,
	}
	if provider == config.ProviderGCE && l.TerminateOnShutdown {
		b.SelfDelete = gce.SelfDeleteCommand
	}
	return b
}

type SetupInput struct {
	Config  *config.Config
	Store   ports.Store
	Objects ports.ObjectStore
	// Provisioner overrides the one built from Config.Launcher.
	Provisioner ports.Provisioner
	// Redis is required when the feed driver is redis.
	Redis *redis.Client
}

// Setup builds the dispatcher pipeline from configuration.
func Setup(ctx context.Context, in SetupInput, log *logger.Logger) (Deps, error) {
	cfg := in.Config
	if log == nil {
		log = logger.Discard()
	}

	scriptURL, err := ScriptLocation(ctx, cfg.Launcher, in.Objects)
	if err != nil {
		return Deps{}, err
	}

	prov := in.Provisioner
	if prov == nil {
		prov, err = compute.NewProvisioner(ctx, cfg.Launcher, log)
		if err != nil {
			return Deps{}, err
		}
	}

	launcher, err := launch.NewLauncher(prov, launch.Spec{
		ImageID:             cfg.Launcher.ImageID,
		InstanceType:        cfg.Launcher.InstanceType,
		KeyName:             cfg.Launcher.KeyName,
		InstanceProfile:     cfg.Launcher.InstanceRoleARN,
		SecurityGroups:      cfg.Launcher.SecurityGroups,
		Monitoring:          cfg.Launcher.Monitoring,
		TerminateOnShutdown: cfg.Launcher.TerminateOnShutdown,
	}, bootstrapFor(prov.Provider(), cfg.Launcher, scriptURL), log)
	if err != nil {
		return Deps{}, err
	}
	log.Info("launcher ready", "provider", prov.Provider(), "script", scriptURL)

	dispatcher := dispatch.New(in.Store, launcher, dispatch.Options{
		Policy:      cfg.Dispatch.BatchPolicy,
		Concurrency: cfg.Dispatch.Concurrency,
		Lease:       cfg.Dispatch.LedgerLease,
	}, log)

	d := Deps{
		Handler: dispatcher,
		Sweeper: dispatch.NewSweeper(dispatcher, cfg.Dispatch.SweepInterval, log),
		Consumer: feed.ConsumerOptions{
			BatchSize:     cfg.Feed.BatchSize,
			RetryAttempts: cfg.Feed.RetryAttempts,
			BisectOnError: cfg.Feed.BisectOnError,
			RetryBackoff:  cfg.Feed.RetryBackoff,
			ErrorBackoff:  cfg.Feed.PollInterval,
		},
		Log: log,
	}

	switch cfg.Feed.Driver {
	case "", config.FeedDriverStore:
		d.Source = feed.NewLogSource(in.Store, cfg.Feed.Consumer, cfg.Feed.PollInterval)
	case config.FeedDriverRedis:
		if in.Redis == nil {
			return Deps{}, errors.Internal("redis feed driver needs a redis client")
		}
		stream := feed.NewRedisStream(in.Redis, feed.RedisStreamOptions{
			Stream:          cfg.Feed.Stream,
			Group:           cfg.Feed.Group,
			Consumer:        cfg.Feed.Consumer,
			Block:           cfg.Feed.BlockTimeout,
			MaxLen:          cfg.Feed.MaxLen,
			ReclaimInterval: cfg.Feed.ReclaimInterval,
			ReclaimMinIdle:  cfg.Feed.ReclaimMinIdle,
		}, log)
		if err := stream.EnsureGroup(ctx); err != nil {
			return Deps{}, err
		}
		d.Source = stream
		d.Relay = feed.NewRelay(in.Store, stream, 0, cfg.Feed.PollInterval, log)
	default:
		return Deps{}, fmt.Errorf("unknown feed driver: %s", cfg.Feed.Driver)
	}

	return d, nil
}

// ScriptLocation resolves where workers fetch the processing script from.
// An explicit script path wins; otherwise the script must already be
// published to the object store under the script key.
func ScriptLocation(ctx context.Context, cfg config.LauncherConfig, objects ports.ObjectStore) (string, error) {
	if cfg.ScriptPath != "" {
		return cfg.ScriptPath, nil
	}
	if objects == nil {
		return "", errors.New(errors.CodeFailedPrecond, "no script path configured and no object store to publish it to")
	}

	if _, err := objects.StatObject(ctx, cfg.ScriptKey); err != nil {
		if errors.IsNotFound(err) {
			return "", errors.Newf(errors.CodeFailedPrecond,
				"processing script %q is not published to %s; run publish-script first", cfg.ScriptKey, objects.Provider())
		}
		return "", errors.Wrap(err, "worker.script_location", "check processing script")
	}
	return objects.Location(cfg.ScriptKey), nil
}
