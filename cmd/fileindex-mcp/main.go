package main

import (
	"context"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/sha1n/mcp-fileindex-server/internal/app"
)

var (
	// Version is injected at build time
	Version = "dev"
	// Build is injected at build time
	Build = "unknown"
	// ProgramName is injected at build time
	ProgramName = "fileindex-mcp"
)

func main() {
	runMain(os.Args, os.Exit)
}

func runMain(args []string, exit func(int)) {
	if err := Execute(Version, Build, ProgramName, args[1:]); err != nil {
		exit(1)
	}
}

// Execute is the entry point for the CLI, extracted for testing
func Execute(version, build, programName string, args []string) error {
	rootCmd := &cobra.Command{
		Use:     programName,
		Short:   "File index MCP Server",
		Long:    "Durable full-text index of file metadata, served over MCP",
		Version: version,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithFlags(cmd.Flags(), version)
		},
	}

	rootCmd.SetVersionTemplate(`{{.Version}}
`)

	app.RegisterFlags(rootCmd.Flags())
	rootCmd.AddCommand(newQueryCmd(), newPutCmd(), newRmCmd(), newBackupCmd(), newRestoreCmd())
	rootCmd.SetArgs(args)

	return rootCmd.Execute()
}

func runWithFlags(flags *pflag.FlagSet, version string) error {
	return app.RunWithDeps(context.Background(), app.DefaultRunParams(), flags, version)
}

func newQueryCmd() *cobra.Command {
	var opts app.QueryOptions
	cmd := &cobra.Command{
		Use:   "query [query text]",
		Short: "Print the keys of the files matching a query",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				opts.Text = args[0]
			}
			return app.RunQuery(cmd.Context(), cmd.Flags(), opts, cmd.OutOrStdout())
		},
	}
	registerOneShotFlags(cmd.Flags())
	cmd.Flags().StringSliceVarP(&opts.Sort, "sort", "s", nil, "Sort fields; prefix with '-' for descending")
	cmd.Flags().IntVar(&opts.Start, "start", 0, "Index of the first result")
	cmd.Flags().IntVarP(&opts.PageSize, "limit", "n", 0, "Maximum number of results (default max-page-size)")
	return cmd
}

func newPutCmd() *cobra.Command {
	opts := app.PutOptions{Size: -1}
	cmd := &cobra.Command{
		Use:   "put <path>",
		Short: "Record a file in the change log and index it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Path = args[0]
			return app.RunPut(cmd.Context(), cmd.Flags(), opts, cmd.OutOrStdout())
		},
	}
	registerOneShotFlags(cmd.Flags())
	cmd.Flags().StringArrayVarP(&opts.Meta, "meta", "m", nil, "Metadata as key=value; repeat a key for multiple values")
	cmd.Flags().Int64Var(&opts.Size, "size", -1, "File size in bytes, stored as Content-Length")
	return cmd
}

func newRmCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rm <path>",
		Short: "Record the removal of a file and drop it from the index",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.RunRemove(cmd.Context(), cmd.Flags(), args[0], cmd.OutOrStdout())
		},
	}
	registerOneShotFlags(cmd.Flags())
	return cmd
}

func newBackupCmd() *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Back up the index to a directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.RunBackup(cmd.Context(), cmd.Flags(), dir, cmd.OutOrStdout())
		},
	}
	registerOneShotFlags(cmd.Flags())
	cmd.Flags().StringVarP(&dir, "to", "o", "", "Backup directory (default backup-dir)")
	return cmd
}

func newRestoreCmd() *cobra.Command {
	var from string
	cmd := &cobra.Command{
		Use:   "restore",
		Short: "Restore the index from the latest backup",
		Long:  "Restore the index directory from the latest completed backup. The index directory must be empty and no server may be running on the data directory.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.RunRestore(cmd.Context(), cmd.Flags(), from, cmd.OutOrStdout())
		},
	}
	registerOneShotFlags(cmd.Flags())
	cmd.Flags().StringVarP(&from, "from", "f", "", "Backup directory (default backup-dir)")
	return cmd
}

func registerOneShotFlags(flags *pflag.FlagSet) {
	app.RegisterIndexFlags(flags)
	flags.String("log-level", "", "Log level: debug, info, warn, or error")
	flags.String("log-format", "", "Log format: text or json")
}
