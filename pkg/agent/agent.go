// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package agent provides the main entrypoint for the wgio daemon.
package agent

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/siderolabs/wgio/internal/wait"
	"github.com/siderolabs/wgio/pkg/client"
	"github.com/siderolabs/wgio/pkg/config"
	"github.com/siderolabs/wgio/pkg/ifwg"
)

// Config is the configuration for the agent.
//
//nolint:govet
type Config struct {
	APIEndpoint string                // APIEndpoint is the control API endpoint, either host:port or unix:///path.
	APITLS      *tls.Config           // APITLS enables TLS on a TCP control API when not nil.
	Token       string                // Token is required for privileged access when set.
	Policy      ifwg.Policy           // Policy is the driver policy.
	Interfaces  []config.Interface    // Interfaces are created and configured on startup.
	Listening   *wait.Value[net.Addr] // Listening, if set, receives the bound control API address.
}

// ConfigFromFile builds the agent configuration from a configuration file.
func ConfigFromFile(cfg *config.Config) Config {
	return Config{
		APIEndpoint: cfg.Endpoint,
		Token:       cfg.Token,
		Policy:      cfg.DriverPolicy(),
		Interfaces:  cfg.Interfaces,
	}
}

// Run runs the agent until ctx is canceled.
func Run(ctx context.Context, cfg Config, logger *zap.Logger) error {
	eg, ctx := errgroup.WithContext(ctx)

	var normalExit bool

	defer func() {
		if normalExit {
			return
		}

		if waitErr := eg.Wait(); waitErr != nil {
			logger.Error("Wait() failed", zap.Error(waitErr))
		}
	}()

	logger.Info("starting agent",
		zap.String("api_endpoint", cfg.APIEndpoint),
		zap.Bool("api_tls", cfg.APITLS != nil),
		zap.Bool("strict_remove", cfg.Policy.StrictRemove),
		zap.Int("interfaces", len(cfg.Interfaces)),
	)

	runErr := run(ctx, cfg, eg, logger)
	waitErr := eg.Wait()

	normalExit = true

	if waitErr != nil {
		if runErr == nil {
			return waitErr
		}

		return fmt.Errorf("%w; also Wait() failed with: %w", runErr, waitErr)
	}

	return runErr
}

func run(ctx context.Context, cfg Config, eg *errgroup.Group, logger *zap.Logger) error {
	driver := ifwg.New(logger, cfg.Policy)

	if err := seedInterfaces(ctx, driver, cfg.Interfaces, logger); err != nil {
		return fmt.Errorf("interfaces: %w", err)
	}

	if err := controlAPI(ctx, eg, controlConfig{
		endpoint:      cfg.APIEndpoint,
		tlsConfig:     cfg.APITLS,
		token:         cfg.Token,
		maxBufferSize: cfg.Policy.MaxBufferSize,
		listening:     cfg.Listening,
	}, driver, logger); err != nil {
		return fmt.Errorf("control API: %w", err)
	}

	return nil
}

func seedInterfaces(ctx context.Context, driver *ifwg.Driver, interfaces []config.Interface, logger *zap.Logger) error {
	c := client.NewLocal(driver, ifwg.Cred{Privileged: true})

	for _, ifc := range interfaces {
		wgCfg, err := ifc.WireGuardConfig(true)
		if err != nil {
			return err
		}

		if err = driver.Create(ifc.Name); err != nil {
			return err
		}

		if err = c.ConfigureDevice(ctx, ifc.Name, wgCfg); err != nil {
			return err
		}

		logger.Info("interface seeded", zap.String("interface", ifc.Name), zap.Int("peers", len(wgCfg.Peers)))
	}

	return nil
}
