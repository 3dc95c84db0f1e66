// Command anywire-socks is the cid side of the tunnel: a local SOCKS4/4a/5
// listener that opens a fresh session per accepted connection against a
// remote rid's socks/socks5 capability. Matches spec.md §6's "program
// [folder|host] [port]" launcher shape: the bare two-positional-argument
// form dials a folder carrier directly; -config switches to the full YAML
// deployment config (FTP/IMAP/S3 mediums). On success it prints the
// proxy-env shell snippet spec.md §6 calls for, colored the way
// aistore/cmd/cli's app.go colors its own banners.
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
	"time"

	"github.com/fatih/color"
	"github.com/urfave/cli"

	"github.com/anywire/anywire/carrier"
	"github.com/anywire/anywire/cmn/cos"
	"github.com/anywire/anywire/cmn/nlog"
	"github.com/anywire/anywire/config"
	"github.com/anywire/anywire/cred"
	"github.com/anywire/anywire/peer"
	"github.com/anywire/anywire/socks"
)

var (
	build     string
	buildtime string
)

func main() {
	app := cli.NewApp()
	app.Name = "anywire-socks"
	app.Usage = "local SOCKS4/4a/5 front-end tunneled over an anywire carrier"
	app.Version = fmt.Sprintf("%s (build %s)", orDefault(build, "dev"), orDefault(buildtime, "unknown"))
	app.ArgsUsage = "[folder] [port]"
	app.Flags = []cli.Flag{
		cli.StringFlag{Name: "config, c", Usage: "YAML deployment config; overrides [folder] [port]"},
		cli.StringFlag{Name: "rid", Usage: "remote server id to dial (required)"},
		cli.StringFlag{Name: "cid", Usage: "local client id (default: randomly generated)"},
		cli.StringFlag{Name: "capability", Value: socks.CapabilitySocks5, Usage: "socks or socks5"},
		cli.StringFlag{Name: "listen", Value: "127.0.0.1:1080", Usage: "local listen address"},
	}
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		nlog.Errorf("anywire-socks: %v", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	binding, poller, seenDBDir, err := resolveBinding(c)
	if err != nil {
		return err
	}

	rid := c.String("rid")
	if rid == "" {
		return cli.NewExitError("anywire-socks: -rid is required", 1)
	}
	cid := c.String("cid")
	if cid == "" {
		cid = "socks-" + cos.GenUID()
	}
	capability := c.String("capability")
	listen := c.String("listen")
	if c.NArg() >= 2 {
		listen = "127.0.0.1:" + c.Args().Get(1)
	}

	client := peer.NewClient(binding, poller, cid).WithSeenDBDir(seenDBDir)
	front := socks.NewFrontend(client, rid, capability)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigc
		nlog.Infoln("received shutdown signal, closing listener")
		cancel()
	}()

	printProxySnippet(listen, capability)

	if err := front.ListenAndServe(ctx, listen); err != nil && ctx.Err() == nil {
		return err
	}
	nlog.Infoln("anywire-socks stopped")
	return nil
}

// resolveBinding builds the carrier.Binding and carrier.Poller either from
// -config (full deployment config, any medium) or from the bare
// [folder] [port] positional form (folder medium only, spec.md §6).
func resolveBinding(c *cli.Context) (carrier.Binding, *carrier.Poller, string, error) {
	if path := c.String("config"); path != "" {
		cfg, err := config.Load(path)
		if err != nil {
			return nil, nil, "", err
		}
		binding, err := cfg.Binding(cred.NewTerminalStore())
		if err != nil {
			return nil, nil, "", err
		}
		return binding, cfg.Poller(), cfg.SeenDBDir, nil
	}

	if c.NArg() < 1 {
		return nil, nil, "", cli.NewExitError("anywire-socks: need [folder] or -config", 1)
	}
	dir := c.Args().Get(0)
	binding, err := carrier.NewFolderBinding(dir)
	if err != nil {
		return nil, nil, "", err
	}
	poller := carrier.NewPoller(100*time.Millisecond, 5*time.Second).WithMedium("folder")
	return binding, poller, "", nil
}

func printProxySnippet(listen, capability string) {
	fgreen := color.New(color.FgHiGreen).SprintFunc()
	fcyan := color.New(color.FgHiCyan).SprintFunc()
	host, port := splitHostPort(listen)
	scheme := "socks5h"
	if capability == socks.CapabilitySocks4 {
		scheme = "socks4"
	}
	fmt.Println(fgreen(fmt.Sprintf("anywire-socks listening on %s (capability=%s)", listen, capability)))
	fmt.Println("to route traffic through this tunnel:")
	fmt.Println(fcyan(fmt.Sprintf("  export http_proxy=%s://%s:%s/", scheme, host, port)))
	fmt.Println(fcyan(fmt.Sprintf("  export https_proxy=%s://%s:%s/", scheme, host, port)))
}

func splitHostPort(addr string) (host, port string) {
	for i := len(addr) - 1; i >= 0; i-- {
		if addr[i] == ':' {
			return addr[:i], addr[i+1:]
		}
	}
	return "localhost", addr
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
