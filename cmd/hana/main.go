package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/guseggert/hana/internal/logging"
	"github.com/guseggert/hana/lifecycle"
	"github.com/guseggert/hana/process"
	"github.com/guseggert/hana/transport"
	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:  "hana",
		Usage: "launch visualization processes, ping them, and shut them down from a tick loop",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "viz",
				Usage: "Path to the visualization executable. Defaults to hana-viz next to this binary.",
			},
			&cli.IntFlag{
				Name:  "count",
				Usage: "Number of visualizations to run.",
				Value: 1,
			},
			&cli.IntFlag{
				Name:  "pings",
				Usage: "Pings to send to each visualization before shutting it down.",
				Value: 3,
			},
			&cli.DurationFlag{
				Name:  "tick",
				Usage: "Control loop period.",
				Value: 16 * time.Millisecond,
			},
			&cli.DurationFlag{
				Name:  "shutdown-timeout",
				Usage: "How long a visualization gets to exit before it is killed.",
				Value: 5 * time.Second,
			},
			&cli.StringFlag{
				Name:    "transport",
				Usage:   "Transport to connect over. One of [ipc,tcp,unix,pipe,ws].",
				Value:   string(transport.KindIPC),
				EnvVars: []string{transport.EnvTransport},
			},
			&cli.StringFlag{
				Name:    "addr",
				Usage:   "Address of the first visualization. Further ones get the next port or a numbered path.",
				EnvVars: []string{transport.EnvAddress},
			},
			&cli.StringFlag{
				Name:    "log",
				Usage:   "Log filter, passed on to the visualizations.",
				Value:   logging.DefaultFilter,
				EnvVars: []string{process.EnvLog},
			},
		},
		Action: func(cctx *cli.Context) error {
			filter := cctx.String("log")
			logger, err := logging.New(filter)
			if err != nil {
				return err
			}
			defer logger.Sync()
			logger = logger.Named("hana")

			vizPath := cctx.String("viz")
			if vizPath == "" {
				self, err := os.Executable()
				if err != nil {
					return fmt.Errorf("finding own executable: %w", err)
				}
				vizPath = filepath.Join(filepath.Dir(self), "hana-viz")
			}

			kind, err := transport.ParseKind(cctx.String("transport"))
			if err != nil {
				return err
			}
			base := transport.Config{Kind: kind, Address: cctx.String("addr")}

			count := cctx.Int("count")
			ids := make([]lifecycle.ID, count)
			index := map[lifecycle.ID]int{}
			for i := range ids {
				ids[i] = lifecycle.ID(fmt.Sprintf("viz-%d", i))
				index[ids[i]] = i
			}

			ctrl := lifecycle.New(
				lifecycle.WithLogger(logger),
				lifecycle.WithTransport(func(id lifecycle.ID) (transport.Config, error) {
					return deriveConfig(base, index[id])
				}),
			)
			defer ctrl.Close()
			ctrl.Subscribe(func(ev lifecycle.Event) {
				logger.Infow("event", "Event", ev.String())
			})

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			loop := &tickLoop{
				ctrl:            ctrl,
				vizPath:         vizPath,
				filter:          filter,
				pings:           cctx.Int("pings"),
				shutdownTimeout: cctx.Duration("shutdown-timeout"),
				sent:            map[lifecycle.ID]int{},
			}
			return loop.run(ctx, ids, cctx.Duration("tick"))
		},
	}
	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
