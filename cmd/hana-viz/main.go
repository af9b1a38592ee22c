package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/guseggert/hana/internal/logging"
	"github.com/guseggert/hana/process"
	"github.com/guseggert/hana/protocol"
	"github.com/guseggert/hana/transport"
	"github.com/guseggert/hana/viz"
	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:  "hana-viz",
		Usage: "a visualization process that waits for a controller and follows its instructions",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "transport",
				Usage:   "Transport to listen on. One of [ipc,tcp,unix,pipe,ws].",
				Value:   string(transport.KindIPC),
				EnvVars: []string{transport.EnvTransport},
			},
			&cli.StringFlag{
				Name:    "addr",
				Usage:   "Address, socket path or pipe name to listen on. Defaults to the transport's default.",
				EnvVars: []string{transport.EnvAddress},
			},
			&cli.DurationFlag{
				Name:  "accept-timeout",
				Usage: "How long to wait for a controller before running standalone. Zero waits forever.",
			},
			&cli.BoolFlag{
				Name:  "ignore-shutdown",
				Usage: "Keep running after a Shutdown instruction, until killed.",
			},
			&cli.StringFlag{
				Name:    "log",
				Usage:   "Log filter, e.g. info or warn,hana=debug.",
				Value:   logging.DefaultFilter,
				EnvVars: []string{process.EnvLog},
			},
		},
		Action: func(cctx *cli.Context) error {
			logger, err := logging.New(cctx.String("log"))
			if err != nil {
				return err
			}
			defer logger.Sync()
			logger = logger.Named("hana-viz")

			kind, err := transport.ParseKind(cctx.String("transport"))
			if err != nil {
				return err
			}
			cfg := transport.Config{Kind: kind, Address: cctx.String("addr")}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			l, err := cfg.Listener(ctx, transport.WithLogger(logger))
			if err != nil {
				return fmt.Errorf("listening on %s: %w", cfg, err)
			}
			defer l.Close()
			logger.Infow("listening", "Transport", cfg.String())

			opts := []viz.Option{
				viz.WithLogger(logger),
				viz.WithAcceptTimeout(cctx.Duration("accept-timeout")),
			}
			ignoreShutdown := cctx.Bool("ignore-shutdown")
			if ignoreShutdown {
				opts = append(opts, viz.WithIgnoreShutdown())
			}

			pings := 0
			err = viz.Serve(ctx, l, func(instr protocol.Instruction) error {
				switch instr.(type) {
				case protocol.Ping:
					pings++
					logger.Infow("ping", "Count", pings)
				case protocol.Shutdown:
					logger.Infow("shutdown requested")
				}
				return nil
			}, opts...)
			switch {
			case errors.Is(err, viz.ErrNoController):
				logger.Infow("no controller connected, running standalone", "Error", err)
			case errors.Is(err, context.Canceled):
				return nil
			case err != nil:
				return err
			}

			if ignoreShutdown {
				logger.Infow("ignoring shutdown, waiting to be killed")
				<-ctx.Done()
			}
			return nil
		},
	}
	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
