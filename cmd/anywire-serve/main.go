// Command anywire-serve is the rid side of the tunnel: it loads a carrier
// binding from a YAML config file, publishes a capability record for the
// built-in SOCKS4/SOCKS5 back-ends, and serves the discovery channel until
// signaled to stop. Modeled on aistore/cmd/authn's main.go (flag parsing,
// signal handling, nlog-only output) with the urfave/cli + fatih/color
// surface spec.md §6 calls for instead of the stdlib flag package.
/*
 * Copyright (c) 2024, Anywire contributors.
 */
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/urfave/cli"

	"github.com/anywire/anywire/cmn/nlog"
	"github.com/anywire/anywire/config"
	"github.com/anywire/anywire/cred"
	"github.com/anywire/anywire/metrics"
	"github.com/anywire/anywire/peer"
	"github.com/anywire/anywire/socks"
)

var (
	build     string
	buildtime string
)

func main() {
	app := cli.NewApp()
	app.Name = "anywire-serve"
	app.Usage = "run an anywire server: publish a capability record and bridge SOCKS sessions to TCP origins"
	app.Version = fmt.Sprintf("%s (build %s)", orDefault(build, "dev"), orDefault(buildtime, "unknown"))
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "config, c",
			Usage: "path to the YAML deployment config (rid, medium, poll intervals, metrics_addr); required",
		},
	}
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		nlog.Errorf("anywire-serve: %v", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	path := c.String("config")
	if path == "" {
		return cli.NewExitError("anywire-serve: -config is required", 1)
	}
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}

	store := cred.NewTerminalStore()
	binding, err := cfg.Binding(store)
	if err != nil {
		return err
	}

	srv := peer.NewServer(binding, cfg.Poller(), cfg.Rid).WithSeenDBDir(cfg.SeenDBDir)
	srv.RegisterCapability(socks.Socks4Backend{})
	srv.RegisterCapability(socks.Socks5Backend{})

	if cfg.MetricsAddr != "" {
		go func() {
			if err := metrics.Serve(cfg.MetricsAddr); err != nil {
				nlog.Errorf("metrics server on %s: %v", cfg.MetricsAddr, err)
			}
		}()
		nlog.Infof("metrics listening on %s", cfg.MetricsAddr)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigc
		nlog.Infoln("received shutdown signal, stopping server")
		cancel()
	}()

	fcyan := color.New(color.FgHiCyan).SprintFunc()
	nlog.Infof("%s rid=%s medium=%s capabilities=[%s %s]",
		fcyan("anywire-serve starting"), cfg.Rid, cfg.Medium, socks.CapabilitySocks4, socks.CapabilitySocks5)

	if err := srv.ServeForever(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	nlog.Infoln("anywire-serve stopped")
	return nil
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
