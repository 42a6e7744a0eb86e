package main

import (
	"bytes"
	"context"
	"fmt"
	"os"

	"github.com/bytedance/sonic"
	"github.com/dimiro1/banner"
	"github.com/koscakluka/ema-kiosk/core/protocol"
	"github.com/koscakluka/ema-kiosk/internal/config"
	"github.com/spf13/cobra"
)

type cli struct {
	configPath string
	verbose    bool
	cfg        config.Config

	stopLogging func(context.Context) error
}

func (c *cli) finalize() {
	if c.stopLogging == nil {
		return
	}
	if err := c.stopLogging(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "failed to flush logs: %v\n", err)
	}
}

func newRootCommand(version string) *cobra.Command {
	c := &cli{}

	rootCmd := &cobra.Command{
		Use:          "kiosk",
		Short:        "Voice reception kiosk",
		Long:         "Greets visitors and holds a spoken conversation with the reception backend.",
		Version:      version,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := config.LoadEnvFiles(".env.local", ".env"); err != nil {
				return err
			}
			cfg, err := config.Load(c.configPath)
			if err != nil {
				return err
			}
			c.cfg = cfg
			if c.verbose {
				level, _ := cfg.Level()
				stop, err := initLogging(os.Stderr, level)
				if err != nil {
					return err
				}
				c.stopLogging = stop
			}
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVarP(&c.configPath, "config", "c", "", "Path to a YAML config file")
	rootCmd.PersistentFlags().BoolVarP(&c.verbose, "verbose", "v", false, "Log to stderr at log_level, including the audio and socket layers")
	cobra.OnFinalize(c.finalize)

	rootCmd.AddCommand(
		newRunCommand(c, version),
		newSchemaCommand(),
		newDevicesCommand(c),
	)
	return rootCmd
}

func newRunCommand(c *cli, version string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the kiosk in the terminal",
		RunE: func(cmd *cobra.Command, _ []string) error {
			printBanner(version)
			return runKiosk(cmd.Context(), c.cfg)
		},
	}
}

func newSchemaCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the JSON schema of the voice socket protocol",
		// Schema output does not depend on configuration.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		RunE: func(cmd *cobra.Command, _ []string) error {
			out, err := sonic.ConfigStd.MarshalIndent(protocol.Schema(), "", "  ")
			if err != nil {
				return fmt.Errorf("marshal schema: %w", err)
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return err
		},
	}
}

func newDevicesCommand(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List capture devices of the configured audio backend",
		RunE: func(cmd *cobra.Command, _ []string) error {
			backend, err := openBackend(c.cfg.Audio)
			if err != nil {
				return err
			}
			defer backend.Close()

			devices, err := backend.Devices()
			if err != nil {
				return fmt.Errorf("list devices: %w", err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s capture devices:\n", c.cfg.Audio.Backend)
			for _, name := range devices {
				fmt.Fprintf(out, "  %s\n", name)
			}
			return nil
		},
	}
}

func printBanner(version string) {
	tpl := "{{ .Title \"KIOSK\" \"\" 0 }}\nVersion: " + version + "\n"
	banner.Init(os.Stdout, true, true, bytes.NewBufferString(tpl))
}
