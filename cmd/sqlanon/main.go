// Package main contains the cli implementation of the tool. It uses cobra
// package for cli tool implementation. The dump is read from standard input
// and written to standard output; all diagnostics go to standard error.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/spf13/cobra"

	"sqlanon/internal/anonymize"
	"sqlanon/internal/apply"
	"sqlanon/internal/config"
	"sqlanon/internal/dump"
	"sqlanon/internal/report"
	"sqlanon/internal/schema"
)

var version = "dev"

type rootFlags struct {
	configFile string
	debug      bool
	schemaFile string
}

type applyFlags struct {
	dsn     string
	file    string
	dryRun  bool
	timeout int
}

func main() {
	rootCmd := rootCommand()
	rootCmd.AddCommand(checkCmd())
	rootCmd.AddCommand(applyCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCommand() *cobra.Command {
	flags := &rootFlags{}
	cmd := &cobra.Command{
		Use:   "sqlanon -f <config-file>",
		Short: "Streaming MySQL dump anonymizer",
		Long: `sqlanon reads a MySQL logical dump on standard input, rewrites selected
field values according to a TOML configuration, and writes the transformed
dump to standard output. The rewrite is deterministic: the same input and
the same secret always produce the same output.`,
		Version:       version,
		SilenceErrors: true,
		RunE: func(_ *cobra.Command, _ []string) error {
			return runAnonymize(flags)
		},
	}

	cmd.Flags().StringVarP(&flags.configFile, "config", "f", "", "Configuration file (required)")
	cmd.Flags().BoolVarP(&flags.debug, "debug", "d", false, "Report the elapsed time on stderr after the run")
	cmd.Flags().StringVar(&flags.schemaFile, "schema", "", "Schema file to cross-check the configuration against")

	return cmd
}

func runAnonymize(flags *rootFlags) error {
	if flags.configFile == "" {
		return reportErr(fmt.Errorf("-f <config-file> is required"))
	}

	cfg, err := config.LoadFile(flags.configFile)
	if err != nil {
		return reportErr(fmt.Errorf("unable to load config %s: %w", flags.configFile, err))
	}

	if flags.schemaFile != "" {
		findings, err := schema.NewChecker().CheckFile(cfg, flags.schemaFile)
		if err != nil {
			return reportErr(err)
		}
		for _, f := range findings {
			fmt.Fprintf(os.Stderr, "WARNING! Schema check: %s\n", f)
		}
	}

	start := time.Now()

	eng := anonymize.New(cfg)
	rw := dump.NewRewriter(cfg, eng, os.Stdin, os.Stdout, os.Stderr)
	if err := rw.Run(); err != nil {
		return reportErr(err)
	}

	report.UnusedRules(cfg, os.Stderr)

	if cfg.Stats {
		report.Stats(cfg, time.Since(start), os.Stdout)
	}

	if flags.debug {
		fmt.Fprintf(os.Stderr, "done in %d ms\n", time.Since(start).Milliseconds())
	}

	return nil
}

func checkCmd() *cobra.Command {
	flags := &rootFlags{}
	cmd := &cobra.Command{
		Use:   "check -f <config-file> --schema <schema.sql>",
		Short: "Validate a configuration against a schema dump",
		RunE: func(_ *cobra.Command, _ []string) error {
			return runCheck(flags)
		},
	}

	cmd.Flags().StringVarP(&flags.configFile, "config", "f", "", "Configuration file (required)")
	cmd.Flags().StringVar(&flags.schemaFile, "schema", "", "Schema file (required)")

	return cmd
}

func runCheck(flags *rootFlags) error {
	if flags.configFile == "" || flags.schemaFile == "" {
		return reportErr(fmt.Errorf("check needs both -f <config-file> and --schema <schema.sql>"))
	}

	cfg, err := config.LoadFile(flags.configFile)
	if err != nil {
		return reportErr(fmt.Errorf("unable to load config %s: %w", flags.configFile, err))
	}

	findings, err := schema.NewChecker().CheckFile(cfg, flags.schemaFile)
	if err != nil {
		return reportErr(err)
	}
	if len(findings) == 0 {
		fmt.Println("configuration matches schema")
		return nil
	}
	for _, f := range findings {
		fmt.Fprintf(os.Stderr, "%s\n", f)
	}
	return reportErr(fmt.Errorf("%d finding(s)", len(findings)))
}

func applyCmd() *cobra.Command {
	flags := &applyFlags{}
	cmd := &cobra.Command{
		Use:   "apply --dsn <dsn> [--file dump.sql]",
		Short: "Load a dump into a MySQL database",
		Long: `Connects to a database and replays a dump file statement by statement.
With no --file, the dump is read from standard input, so an anonymization
run can be piped straight into a scratch database:

  sqlanon -f rules.toml < prod.sql | sqlanon apply --dsn "user:pass@tcp(localhost:3306)/scratch"`,
		RunE: func(_ *cobra.Command, _ []string) error {
			return runApply(flags)
		},
	}

	cmd.Flags().StringVar(&flags.dsn, "dsn", "", "Database connection string (required)")
	cmd.Flags().StringVar(&flags.file, "file", "", "Dump file (default: standard input)")
	cmd.Flags().BoolVar(&flags.dryRun, "dry-run", false, "Print statements without executing")
	cmd.Flags().IntVar(&flags.timeout, "timeout", 300, "Overall timeout in seconds")

	return cmd
}

func runApply(flags *applyFlags) error {
	if flags.dsn == "" && !flags.dryRun {
		return reportErr(fmt.Errorf("--dsn is required"))
	}

	in := os.Stdin
	if flags.file != "" {
		f, err := os.Open(flags.file)
		if err != nil {
			return reportErr(fmt.Errorf("failed to open dump file: %w", err))
		}
		defer func() {
			_ = f.Close()
		}()
		in = f
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(flags.timeout)*time.Second)
	defer cancel()

	loader := apply.NewLoader(apply.Options{
		DSN:    flags.dsn,
		DryRun: flags.dryRun,
		Out:    os.Stdout,
	})

	if !flags.dryRun {
		if err := loader.Connect(ctx); err != nil {
			return reportErr(err)
		}
		defer func() {
			if err := loader.Close(); err != nil {
				fmt.Fprintf(os.Stderr, "failed to close database connection: %v\n", err)
			}
		}()
	}

	executed, err := loader.Load(ctx, in)
	if err != nil {
		return reportErr(err)
	}
	fmt.Fprintf(os.Stderr, "executed %d statement(s)\n", executed)
	return nil
}

// reportErr prints the error once; Execute's non-nil return then drives the
// exit code without cobra reprinting it.
func reportErr(err error) error {
	fmt.Fprintln(os.Stderr, err)
	return err
}
