// Command publish-script uploads the processing script to the configured
// object store so the dispatcher can hand its location to workers.
//
//	publish-script [-key script.sh] ./script.sh
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"launchpad/internal/config"
	"launchpad/internal/pkg/logger"
	"launchpad/internal/ports"
	"launchpad/internal/storage"
)

func main() {
	key := flag.String("key", "", "object key (defaults to launcher.script_key)")
	flag.Parse()

	log := logger.New(logger.Config{Level: "info", Format: "text", ServiceName: "publish-script"})

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: publish-script [-key KEY] SCRIPT")
		os.Exit(2)
	}

	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		log.LogFatal("failed to load configuration", err)
	}
	if *key == "" {
		*key = cfg.Launcher.ScriptKey
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	sp, err := storage.NewProvider(ctx, cfg.Storage)
	if err != nil {
		log.LogFatal("failed to initialize storage provider", err)
	}

	f, err := os.Open(flag.Arg(0))
	if err != nil {
		log.LogFatal("failed to open script", err)
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		log.LogFatal("failed to stat script", err)
	}

	out, err := sp.PutObject(ctx, ports.PutObjectInput{
		ObjectKey:   *key,
		ContentType: "text/x-shellscript",
		Reader:      f,
		Size:        st.Size(),
	})
	if err != nil {
		log.LogFatal("failed to publish script", err)
	}

	log.Info("script published", "provider", sp.Provider(), "key", out.ObjectKey, "size", out.Size)
	fmt.Println(out.Location)
}
