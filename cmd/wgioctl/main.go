// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package main provides a command line tool to inspect and configure wgio interfaces.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/siderolabs/wgio/pkg/client"
	"github.com/siderolabs/wgio/pkg/config"
)

var flags struct {
	endpoint string
	token    string
	kernel   bool
	tls      bool
	showKeys bool
}

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:          "wgioctl",
	Short:        "Inspect and configure WireGuard interfaces through wg_data_io",
	SilenceUsage: true,
}

var interfacesCmd = &cobra.Command{
	Use:   "interfaces",
	Short: "List WireGuard interfaces",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withClient(cmd.Context(), func(ctx context.Context, c *client.Client) error {
			devices, err := c.Devices(ctx)
			if err != nil {
				return err
			}

			for _, d := range devices {
				fmt.Fprintln(cmd.OutOrStdout(), d.Name)
			}

			return nil
		})
	},
}

var showCmd = &cobra.Command{
	Use:   "show [interface]",
	Short: "Show the configuration of one or all interfaces as YAML",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd.Context(), func(ctx context.Context, c *client.Client) error {
			if len(args) == 1 {
				d, err := c.Device(ctx, args[0])
				if err != nil {
					return err
				}

				return printInterface(cmd, config.FromDevice(d, flags.showKeys))
			}

			devices, err := c.Devices(ctx)
			if err != nil {
				return err
			}

			for i, d := range devices {
				if i > 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "---")
				}

				if err = printInterface(cmd, config.FromDevice(d, flags.showKeys)); err != nil {
					return err
				}
			}

			return nil
		})
	},
}

var setconfCmd = &cobra.Command{
	Use:   "setconf <interface> <file>",
	Short: "Replace the configuration of an interface with the one in a YAML file",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return applyFile(cmd.Context(), args[0], args[1], true)
	},
}

var addconfCmd = &cobra.Command{
	Use:   "addconf <interface> <file>",
	Short: "Merge the configuration in a YAML file into an interface",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return applyFile(cmd.Context(), args[0], args[1], false)
	},
}

func applyFile(ctx context.Context, name, path string, replace bool) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}

	defer f.Close() //nolint:errcheck

	ifc, err := config.ParseInterface(f)
	if err != nil {
		return err
	}

	ifc.Name = name

	wgCfg, err := ifc.WireGuardConfig(replace)
	if err != nil {
		return err
	}

	return withClient(ctx, func(ctx context.Context, c *client.Client) error {
		return c.ConfigureDevice(ctx, name, wgCfg)
	})
}

func printInterface(cmd *cobra.Command, ifc *config.Interface) error {
	out, err := ifc.Marshal()
	if err != nil {
		return err
	}

	_, err = cmd.OutOrStdout().Write(out)

	return err
}

func withClient(ctx context.Context, f func(context.Context, *client.Client) error) error {
	if flags.kernel {
		c, err := client.New()
		if err != nil {
			return err
		}

		defer c.Close() //nolint:errcheck

		return f(ctx, c)
	}

	creds := insecure.NewCredentials()
	if flags.tls {
		creds = credentials.NewClientTLSFromCert(nil, "")
	}

	conn, err := grpc.Dial(flags.endpoint, grpc.WithTransportCredentials(creds))
	if err != nil {
		return fmt.Errorf("error connecting to %s: %w", flags.endpoint, err)
	}

	defer conn.Close() //nolint:errcheck

	return f(ctx, client.NewRemote(conn, flags.token))
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		cancel()

		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flags.endpoint, "endpoint", "unix:///var/run/wgio.sock", "control API endpoint")
	rootCmd.PersistentFlags().StringVar(&flags.token, "token", os.Getenv("WGIO_TOKEN"), "token for privileged access")
	rootCmd.PersistentFlags().BoolVar(&flags.kernel, "kernel", false, "talk to the kernel driver directly instead of the control API")
	rootCmd.PersistentFlags().BoolVar(&flags.tls, "tls", false, "use TLS to connect to the control API")

	showCmd.Flags().BoolVar(&flags.showKeys, "show-keys", false, "include private and preshared keys")

	rootCmd.AddCommand(interfacesCmd, showCmd, setconfCmd, addconfCmd)
}
