package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/jbweber/corral/internal/control"
	"github.com/jbweber/corral/internal/loader"
	"github.com/jbweber/corral/internal/vm"
)

var (
	startPaused bool
	graceful    bool
)

func init() {
	createCmd.Flags().BoolVar(&startPaused, "paused", false, "leave the guest paused after launch")
	startCmd.Flags().BoolVar(&startPaused, "paused", false, "leave the guest paused after launch")
	destroyCmd.Flags().BoolVar(&graceful, "graceful", false, "give the guest a moment to flush before killing it")
}

// readManifest reads and checks a definition file before it is sent.
func readManifest(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file %s: %w", path, err)
	}
	if _, err := loader.LoadFromYAML(data); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return data, nil
}

var defineCmd = &cobra.Command{
	Use:   "define <domain.yaml>",
	Short: "Define a persistent domain from a file",
	Long: `Store a domain definition without starting it. Defining an inactive domain
again with the same name and uid replaces its definition.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		manifest, err := readManifest(args[0])
		if err != nil {
			return err
		}
		return withClient(func(c *control.Client) error {
			d, err := c.Define(cmd.Context(), manifest)
			if err != nil {
				return fmt.Errorf("failed to define %s: %w", args[0], err)
			}
			fmt.Printf("✓ Domain %s defined (uid %s)\n", d.Name, d.UID)
			return nil
		})
	},
}

var createCmd = &cobra.Command{
	Use:   "create <domain.yaml>",
	Short: "Create and start a transient domain from a file",
	Long: `Start a domain that is forgotten as soon as it stops. Nothing is written to
the config directory.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		manifest, err := readManifest(args[0])
		if err != nil {
			return err
		}
		return withClient(func(c *control.Client) error {
			d, err := c.CreateTransient(cmd.Context(), manifest, startPaused)
			if err != nil {
				return fmt.Errorf("failed to create %s: %w", args[0], err)
			}
			fmt.Printf("✓ Domain %s created, %s as id %d\n", d.Name, d.Status.State, d.Status.RuntimeID)
			return nil
		})
	},
}

var startCmd = &cobra.Command{
	Use:   "start <domain>",
	Short: "Start a defined domain",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(c *control.Client) error {
			started, err := c.Start(cmd.Context(), args[0], startPaused)
			if err != nil {
				return fmt.Errorf("failed to start %s: %w", args[0], err)
			}
			fmt.Printf("✓ Domain %s %s as id %d\n", started.Name, started.Status.State, started.Status.RuntimeID)
			return nil
		})
	},
}

var shutdownCmd = &cobra.Command{
	Use:   "shutdown <domain>",
	Short: "Ask a guest to power off",
	Long: `Ask the guest to power off. The command returns once the request is
delivered. The domain becomes inactive when the guest actually stops.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(c *control.Client) error {
			if err := c.Shutdown(cmd.Context(), args[0]); err != nil {
				return fmt.Errorf("failed to shut down %s: %w", args[0], err)
			}
			fmt.Printf("✓ Shutdown requested for %s\n", args[0])
			return nil
		})
	},
}

var rebootCmd = &cobra.Command{
	Use:   "reboot <domain>",
	Short: "Ask a guest to restart",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(c *control.Client) error {
			if err := c.Reboot(cmd.Context(), args[0]); err != nil {
				return fmt.Errorf("failed to reboot %s: %w", args[0], err)
			}
			fmt.Printf("✓ Reboot requested for %s\n", args[0])
			return nil
		})
	},
}

var destroyCmd = &cobra.Command{
	Use:   "destroy <domain>",
	Short: "Terminate a running guest immediately",
	Long: `Terminate a running or paused guest. A transient domain is forgotten; a
persistent one stays defined and inactive.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(c *control.Client) error {
			if err := c.Destroy(cmd.Context(), args[0], !graceful); err != nil {
				return fmt.Errorf("failed to destroy %s: %w", args[0], err)
			}
			fmt.Printf("✓ Domain %s destroyed\n", args[0])
			return nil
		})
	},
}

var undefineCmd = &cobra.Command{
	Use:   "undefine <domain>",
	Short: "Remove an inactive persistent domain",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(c *control.Client) error {
			if err := c.Undefine(cmd.Context(), args[0]); err != nil {
				return fmt.Errorf("failed to undefine %s: %w", args[0], err)
			}
			fmt.Printf("✓ Domain %s undefined\n", args[0])
			return nil
		})
	},
}

var resumeCmd = &cobra.Command{
	Use:   "resume <domain>",
	Short: "Unpause a paused guest",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(c *control.Client) error {
			d, err := c.Resume(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("failed to resume %s: %w", args[0], err)
			}
			fmt.Printf("✓ Domain %s resumed\n", d.Name)
			return nil
		})
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List domains",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		formatter, err := newFormatter()
		if err != nil {
			return err
		}
		return withClient(func(c *control.Client) error {
			items, err := c.List(cmd.Context())
			if err != nil {
				return err
			}
			result, err := formatter.FormatDomainList(items)
			if err != nil {
				return fmt.Errorf("failed to format output: %w", err)
			}
			fmt.Print(result)
			return nil
		})
	},
}

var getCmd = &cobra.Command{
	Use:   "get <domain>",
	Short: "Show a domain",
	Long: `Show a domain by name or uid.

Output formats:
  -o table  Human-readable table (default)
  -o yaml   Full YAML resource
  -o json   Full JSON resource`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		formatter, err := newFormatter()
		if err != nil {
			return err
		}
		return withClient(func(c *control.Client) error {
			d, err := c.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			result, err := formatter.FormatDomain(d)
			if err != nil {
				return fmt.Errorf("failed to format output: %w", err)
			}
			fmt.Print(result)
			return nil
		})
	},
}

var infoCmd = &cobra.Command{
	Use:   "info <domain>",
	Short: "Show live resource usage of a domain",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(c *control.Client) error {
			info, err := c.Info(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printInfo(info)
			return nil
		})
	},
}

var dumpCmd = &cobra.Command{
	Use:   "dump <domain>",
	Short: "Print the stored definition of a domain",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(c *control.Client) error {
			data, err := c.Dump(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			_, err = os.Stdout.Write(data)
			return err
		})
	},
}

func printInfo(info vm.Info) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	id := "-"
	if info.State.IsActive() {
		id = fmt.Sprintf("%d", info.RuntimeID)
	}
	_, _ = fmt.Fprintf(w, "Name:\t%s\n", info.Name)
	_, _ = fmt.Fprintf(w, "UUID:\t%s\n", info.UUID)
	_, _ = fmt.Fprintf(w, "State:\t%s\n", info.State)
	_, _ = fmt.Fprintf(w, "Id:\t%s\n", id)
	_, _ = fmt.Fprintf(w, "CPU(s):\t%d\n", info.VCPUs)
	_, _ = fmt.Fprintf(w, "CPU time:\t%s\n", time.Duration(info.CPUTimeNs))
	_, _ = fmt.Fprintf(w, "Max memory:\t%d KiB\n", info.MaxMemKiB)
	_, _ = fmt.Fprintf(w, "Used memory:\t%d KiB\n", info.MemoryKiB)
	_ = w.Flush()
}
