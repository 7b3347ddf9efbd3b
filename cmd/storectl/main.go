// Command storectl runs maintenance against the configured storage backend:
//
//	storectl collections
//	storectl export [--prefix nightly] [--presign 1h]
//	storectl reset --confirm <backend>
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fairground/go-services/internal/config"
	"github.com/fairground/go-services/internal/datastore/service"
	"github.com/fairground/go-services/internal/snapshot"
	"github.com/fairground/go-services/pkg/logger"
	"github.com/spf13/pflag"
)

var errUsage = errors.New("usage: storectl <collections|export|reset> [flags]")

func main() {
	logger.Init(os.Getenv("LOG_LEVEL"))
	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatalf("failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := service.New(ctx, cfg)
	if err != nil {
		logger.Fatalf("failed to initialize storage: %v", err)
	}
	defer func() { _ = closeStore(context.Background()) }()

	c := &cli{cfg: cfg, store: store, out: os.Stdout, sink: func(ctx context.Context) (sink, error) {
		return snapshot.NewMinIOSink(ctx, cfg.MinIO)
	}}
	if err := c.run(ctx, os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
}

type sink interface {
	snapshot.ObjectSink
	PresignedURL(ctx context.Context, key string, expires time.Duration) (string, error)
}

type cli struct {
	cfg   *config.Config
	store service.Store
	out   io.Writer
	sink  func(context.Context) (sink, error)
}

func (c *cli) run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errUsage
	}
	switch args[0] {
	case "collections":
		for _, name := range c.store.Collections(ctx) {
			fmt.Fprintf(c.out, "%s\t%d\n", name, len(c.store.Find(ctx, name, nil)))
		}
		return nil
	case "export":
		return c.export(ctx, args[1:])
	case "reset":
		return c.reset(ctx, args[1:])
	}
	return errUsage
}

func (c *cli) export(ctx context.Context, args []string) error {
	fs := pflag.NewFlagSet("export", pflag.ContinueOnError)
	prefix := fs.String("prefix", "snapshots", "object key prefix")
	presign := fs.Duration("presign", 0, "print presigned download links valid for this long")
	if err := fs.Parse(args); err != nil {
		return err
	}
	s, err := c.sink(ctx)
	if err != nil {
		return err
	}
	res, err := snapshot.Export(ctx, c.store, s, *prefix)
	if err != nil {
		return err
	}
	for name, key := range res.Objects {
		line := fmt.Sprintf("%s\t%d\t%s", name, res.Count[name], key)
		if *presign > 0 {
			u, err := s.PresignedURL(ctx, key, *presign)
			if err != nil {
				return err
			}
			line += "\t" + u
		}
		fmt.Fprintln(c.out, line)
	}
	return nil
}

// reset wipes every collection. It needs ADMIN_ALLOW_CLEAR and the backend
// name typed back as confirmation.
func (c *cli) reset(ctx context.Context, args []string) error {
	fs := pflag.NewFlagSet("reset", pflag.ContinueOnError)
	confirm := fs.String("confirm", "", "type the backend name to confirm")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if !c.cfg.Admin.AllowClear {
		return errors.New("reset refused: ADMIN_ALLOW_CLEAR is not true")
	}
	if !strings.EqualFold(*confirm, c.store.Backend()) {
		return fmt.Errorf("reset refused: pass --confirm %s", c.store.Backend())
	}
	c.store.Clear(ctx)
	fmt.Fprintf(c.out, "cleared %s backend\n", c.store.Backend())
	return nil
}
