// Copyright 2025 The lantern Authors
// This file is part of the lantern library.
//
// The lantern library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The lantern library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the lantern library. If not, see <http://www.gnu.org/licenses/>.

// lantern is a compact block filter client: point it at a network and a
// set of watched scripts and it prints matching blocks as they are found.
package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/naoina/toml"
	"github.com/urfave/cli/v2"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/lantern-btc/lantern/log"
	"github.com/lantern-btc/lantern/node"
	"github.com/lantern-btc/lantern/p2p"
	"github.com/lantern-btc/lantern/params"
)

var (
	networkFlag = &cli.StringFlag{
		Name:  "network",
		Usage: "Bitcoin network (mainnet, testnet3, testnet4, signet, regtest)",
		Value: "signet",
	}
	peerFlag = &cli.StringSliceFlag{
		Name:  "peer",
		Usage: "Trusted peer address (host or host:port), may repeat",
	}
	scriptFlag = &cli.StringSliceFlag{
		Name:  "script",
		Usage: "Hex-encoded output script to watch, may repeat",
	}
	dataDirFlag = &cli.StringFlag{
		Name:  "datadir",
		Usage: "Storage root for headers and the address book",
	}
	requiredPeersFlag = &cli.IntFlag{
		Name:  "required-peers",
		Usage: "Connections to maintain",
		Value: 1,
	}
	verbosityFlag = &cli.StringFlag{
		Name:  "verbosity",
		Usage: "Logging level (debug, info, warn)",
		Value: "info",
	}
	configFlag = &cli.StringFlag{
		Name:  "config",
		Usage: "TOML configuration file",
	}
	logFileFlag = &cli.StringFlag{
		Name:  "logfile",
		Usage: "Rotating log file in addition to stderr",
	}
)

// fileConfig mirrors the flag set for TOML configuration. Flags win over
// the file.
type fileConfig struct {
	Network       string
	Peers         []string
	Scripts       []string
	DataDir       string
	RequiredPeers int
}

func main() {
	app := &cli.App{
		Name:   "lantern",
		Usage:  "watch the Bitcoin chain through compact block filters",
		Action: run,
		Flags: []cli.Flag{
			networkFlag, peerFlag, scriptFlag, dataDirFlag,
			requiredPeersFlag, verbosityFlag, configFlag, logFileFlag,
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig(ctx *cli.Context) (*fileConfig, error) {
	cfg := &fileConfig{
		Network:       ctx.String(networkFlag.Name),
		Peers:         ctx.StringSlice(peerFlag.Name),
		Scripts:       ctx.StringSlice(scriptFlag.Name),
		DataDir:       ctx.String(dataDirFlag.Name),
		RequiredPeers: ctx.Int(requiredPeersFlag.Name),
	}
	if path := ctx.String(configFlag.Name); path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		var file fileConfig
		if err := toml.NewDecoder(f).Decode(&file); err != nil {
			return nil, fmt.Errorf("%s: %v", path, err)
		}
		if !ctx.IsSet(networkFlag.Name) && file.Network != "" {
			cfg.Network = file.Network
		}
		cfg.Peers = append(cfg.Peers, file.Peers...)
		cfg.Scripts = append(cfg.Scripts, file.Scripts...)
		if cfg.DataDir == "" {
			cfg.DataDir = file.DataDir
		}
		if !ctx.IsSet(requiredPeersFlag.Name) && file.RequiredPeers > 0 {
			cfg.RequiredPeers = file.RequiredPeers
		}
	}
	return cfg, nil
}

func parseNetwork(name string) (params.Network, error) {
	switch name {
	case "mainnet":
		return params.Mainnet, nil
	case "testnet3":
		return params.Testnet3, nil
	case "testnet4":
		return params.Testnet4, nil
	case "signet":
		return params.Signet, nil
	case "regtest":
		return params.Regtest, nil
	default:
		return 0, fmt.Errorf("unknown network %q", name)
	}
}

func setupLogging(ctx *cli.Context) {
	var w io.Writer = os.Stderr
	if path := ctx.String(logFileFlag.Name); path != "" {
		w = io.MultiWriter(os.Stderr, &lumberjack.Logger{
			Filename:   path,
			MaxSize:    32, // megabytes
			MaxBackups: 3,
		})
	}
	log.SetDefault(log.StreamHandler(w))
	if lvl, ok := log.LvlFromString(ctx.String(verbosityFlag.Name)); ok {
		log.SetLevel(lvl)
	}
}

func run(ctx *cli.Context) error {
	setupLogging(ctx)
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	network, err := parseNetwork(cfg.Network)
	if err != nil {
		return err
	}

	builder := node.NewBuilder(network).
		RequiredPeers(cfg.RequiredPeers).
		DataDir(cfg.DataDir)
	for _, addr := range cfg.Peers {
		host, portStr, splitErr := net.SplitHostPort(addr)
		var port uint16
		if splitErr != nil {
			host = addr
		} else if parsed, err := strconv.ParseUint(portStr, 10, 16); err == nil {
			port = uint16(parsed)
		}
		builder.AddPeer(p2p.TrustedPeer{Addr: host, Port: port})
	}
	scripts := make([][]byte, 0, len(cfg.Scripts))
	for _, s := range cfg.Scripts {
		raw, err := hex.DecodeString(s)
		if err != nil {
			return fmt.Errorf("script %q: %v", s, err)
		}
		scripts = append(scripts, raw)
	}
	builder.AddScripts(scripts)

	n, client, err := builder.Build()
	if err != nil {
		return err
	}

	runCtx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	go n.Run(runCtx)

	for {
		select {
		case ev, ok := <-client.Events():
			if !ok {
				return nil
			}
			switch e := ev.(type) {
			case node.EventSynced:
				log.Info("Synced", "height", e.Update.Tip.Height, "tip", e.Update.Tip.Hash)
			case node.EventBlock:
				log.Info("Matched block", "height", e.Block.Height, "hash", e.Block.Block.Hash())
			case node.EventBlocksDisconnected:
				log.Warn("Reorganization", "depth", len(e.Headers))
			}
		case info := <-client.Infos():
			if sc, ok := info.(node.InfoStateChange); ok {
				log.Info("State", "now", sc.State)
			}
		case warn := <-client.Warnings():
			log.Warn(warn.String())
		case line := <-client.Logs():
			log.Debug(line)
		case <-runCtx.Done():
			return client.Requester.Shutdown()
		}
	}
}
