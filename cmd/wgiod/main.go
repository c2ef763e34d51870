// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package main provides the entrypoint for the wgio daemon.
package main

import (
	"context"
	"crypto/tls"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"github.com/siderolabs/wgio/pkg/agent"
	"github.com/siderolabs/wgio/pkg/config"
)

func main() {
	if err := run(); err != nil {
		println("error :", err.Error())

		os.Exit(1)
	}
}

func run() error {
	var (
		configPath  string
		apiEndpoint string
		token       string
		tlsCert     string
		tlsKey      string
		interfaces  interfacesFlag
	)

	flag.StringVar(&configPath, "config", "", "path to the YAML configuration file")
	flag.StringVar(&apiEndpoint, "api-endpoint", "unix:///var/run/wgio.sock", "control API endpoint, host:port or unix:///path")
	flag.StringVar(&token, "token", "", "token required for privileged access")
	flag.StringVar(&tlsCert, "tls-cert", "", "TLS certificate for a TCP control API")
	flag.StringVar(&tlsKey, "tls-key", "", "TLS key for a TCP control API")
	flag.Var(&interfaces, "interface", "name of an unconfigured interface to create, may be repeated")
	flag.Parse()

	fileCfg := &config.Config{}

	if configPath != "" {
		var err error

		if fileCfg, err = config.Load(configPath); err != nil {
			return fmt.Errorf("error loading config: %w", err)
		}
	}

	for _, name := range interfaces {
		fileCfg.Interfaces = append(fileCfg.Interfaces, config.Interface{Name: name})
	}

	if err := fileCfg.Validate(); err != nil {
		return err
	}

	cfg := agent.ConfigFromFile(fileCfg)

	// flags take precedence over the file
	if isSet("api-endpoint") || cfg.APIEndpoint == "" {
		cfg.APIEndpoint = apiEndpoint
	}

	if isSet("token") {
		cfg.Token = token
	}

	if tlsCert != "" || tlsKey != "" {
		cert, err := tls.LoadX509KeyPair(tlsCert, tlsKey)
		if err != nil {
			return fmt.Errorf("error loading TLS key pair: %w", err)
		}

		cfg.APITLS = &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		}
	}

	logger, err := zap.NewDevelopment()
	if err != nil {
		return fmt.Errorf("error creating logger: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	return agent.Run(ctx, cfg, logger)
}

func isSet(name string) bool {
	var found bool

	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			found = true
		}
	})

	return found
}

type interfacesFlag []string

func (i *interfacesFlag) String() string {
	return strings.Join(*i, " ")
}

func (i *interfacesFlag) Set(s string) error {
	*i = append(*i, s)

	return nil
}
