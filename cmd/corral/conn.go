package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jbweber/corral/internal/libvirt"
)

var testConnCmd = &cobra.Command{
	Use:   "test-conn",
	Short: "Test the libvirt connection",
	Long:  `Test connectivity to the libvirt daemon and display version information.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := setup()
		if err != nil {
			return err
		}
		defer func() { _ = log.Sync() }()

		fmt.Printf("Testing libvirt connection on %s...\n", cfg.Libvirt.Socket)

		client, err := libvirt.ConnectWithContext(cmd.Context(), cfg.Libvirt.Socket, cfg.Libvirt.Timeout)
		if err != nil {
			return fmt.Errorf("failed to connect to libvirt: %w", err)
		}
		defer func() {
			if closeErr := client.Close(); closeErr != nil {
				log.Warn("failed to close libvirt connection", zap.Error(closeErr))
			}
		}()
		fmt.Println("✓ Connected to libvirt daemon")

		if err := client.Ping(); err != nil {
			return fmt.Errorf("connection test failed: %w", err)
		}

		info, err := client.Info()
		if err != nil {
			return err
		}
		fmt.Printf("✓ Libvirt version: %s\n", info.LibVersion)
		fmt.Printf("✓ Hypervisor hostname: %s\n", info.Hostname)
		fmt.Printf("✓ Connection URI: %s\n", info.URI)

		fmt.Println("\nConnection test successful!")
		return nil
	},
}
