package main

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"ipadepot/services/export"
	"ipadepot/services/repo"
)

func main() {
	_ = godotenv.Load()
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "ipactl",
		Short:         "Utility for exporting and importing registry bundles",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(newBundlesCommand())
	return cmd
}

func newBundlesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bundles",
		Short: "Bundle export and import operations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.AddCommand(newBundlesExportCommand())
	cmd.AddCommand(newBundlesImportCommand())
	return cmd
}

func newBundlesExportCommand() *cobra.Command {
	var (
		apiBaseURL string
		output     string
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Pack every registry artifact into a signed bundle",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			signer, err := repo.NewSignerFromEnv()
			if err != nil {
				return err
			}
			_, err = export.Build(ctx, export.BuildConfig{
				APIBaseURL: apiBaseURL,
				Token:      os.Getenv("REGISTRY_TOKEN"),
				Output:     output,
				Signer:     signer,
				Stdout:     os.Stdout,
			})
			return err
		},
	}

	cmd.Flags().StringVar(&apiBaseURL, "api", "", "Base URL of the registry (e.g. https://apps.example.com)")
	cmd.Flags().StringVar(&output, "output", "", "Destination bundle file (tar.zst)")
	_ = cmd.MarkFlagRequired("api")
	_ = cmd.MarkFlagRequired("output")
	return cmd
}

func newBundlesImportCommand() *cobra.Command {
	var (
		bundleFile string
		apiBaseURL string
	)

	cmd := &cobra.Command{
		Use:   "import",
		Short: "Verify a bundle and upload its artifacts into a registry",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			signer, err := repo.NewSignerFromEnv()
			if err != nil {
				return err
			}
			_, err = export.Import(ctx, export.ImportConfig{
				BundlePath: bundleFile,
				APIBaseURL: apiBaseURL,
				Token:      os.Getenv("REGISTRY_TOKEN"),
				Signer:     signer,
				Stdout:     os.Stdout,
			})
			return err
		},
	}

	cmd.Flags().StringVar(&bundleFile, "file", "", "Path to the bundle tar.zst")
	cmd.Flags().StringVar(&apiBaseURL, "api", "", "Base URL of the receiving registry")
	_ = cmd.MarkFlagRequired("file")
	_ = cmd.MarkFlagRequired("api")
	return cmd
}
