// Package cli builds the migration command surface of spec.md §6.6 as a
// reusable cobra root command. It is deliberately thin: every behavior it
// exposes already lives in redisom's schema/data migrators, matching
// spec.md §2's "minimal logic inside the core" note about the CLI being an
// external collaborator, not a core component.
package cli

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/gustavotero7/redisom"
)

// Exit codes per spec.md §6.6.
const (
	ExitSuccess = 0
	ExitTransient = 1
	ExitFatal = 2
	ExitPartial = 3
)

// Registry is the application-supplied binding between its declared record
// types and the CLI: one compiled schema per record (for C8/C9) plus the
// data migrations registered against them. Real applications build this
// from their own record declarations; see cmd/redisom-migrate/main.go for
// the standalone, registry-less entry point.
type Registry struct {
	Schemas       map[string]*redisom.CompiledSchema
	DataMigrations []*redisom.DataMigration
}

// NewRootCommand builds the "redisom-migrate" root command bound to conn,
// migrationsDir, and reg.
func NewRootCommand(conn redisom.Conn, migrationsDir string, reg Registry) *cobra.Command {
	root := &cobra.Command{
		Use:   "redisom-migrate",
		Short: "Schema and data migration tool for redisom-managed record types",
	}
	root.AddCommand(schemaCmd(conn, migrationsDir, reg))
	root.AddCommand(dataCmd(conn, migrationsDir, reg))
	return root
}

func exitWith(code int) {
	os.Exit(code)
}

func classify(err error) int {
	switch err.(type) {
	case *redisom.MigrationError, *redisom.SchemaError, *redisom.DatabaseNumberError, *redisom.CapabilityError:
		return ExitFatal
	case *redisom.ConnectionError:
		return ExitTransient
	default:
		return ExitFatal
	}
}

func fail(cmd *cobra.Command, err error) {
	fmt.Fprintln(cmd.ErrOrStderr(), "redisom-migrate:", err)
	exitWith(classify(err))
}

// --- schema migration commands (C8) ---

func schemaCmd(conn redisom.Conn, migrationsDir string, reg Registry) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Schema migrations (index definitions)",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Report schema drift per registered record type",
		Run: func(cmd *cobra.Command, args []string) {
			m := redisom.NewSchemaMigrator(conn, migrationsDir, reg.Schemas)
			statuses, err := m.Status(cmd.Context())
			if err != nil {
				fail(cmd, err)
				return
			}
			for _, s := range statuses {
				fmt.Fprintf(cmd.OutOrStdout(), "%-24s %s\n", s.Record, s.State)
			}
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "create <slug>",
		Short: "Write schema migration files for changed record types",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			m := redisom.NewSchemaMigrator(conn, migrationsDir, reg.Schemas)
			written, err := m.Create(args[0])
			if err != nil {
				fail(cmd, err)
				return
			}
			for _, id := range written {
				fmt.Fprintln(cmd.OutOrStdout(), id)
			}
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Apply every un-applied schema migration file",
		Run: func(cmd *cobra.Command, args []string) {
			m := redisom.NewSchemaMigrator(conn, migrationsDir, reg.Schemas)
			if err := m.Run(cmd.Context()); err != nil {
				fail(cmd, err)
			}
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "rollback <id>",
		Short: "Roll back one applied schema migration",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			m := redisom.NewSchemaMigrator(conn, migrationsDir, reg.Schemas)
			if err := m.Rollback(cmd.Context(), args[0]); err != nil {
				fail(cmd, err)
			}
		},
	})
	return cmd
}

// --- data migration commands (C9) ---

func dataCmd(conn redisom.Conn, migrationsDir string, reg Registry) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate-data",
		Short: "Data migrations (stored-record transformations)",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Report applied/pending data migrations",
		Run: func(cmd *cobra.Command, args []string) {
			m := redisom.NewDataMigrator(conn, reg.DataMigrations)
			stats, err := m.Stats(cmd.Context())
			if err != nil {
				fail(cmd, err)
				return
			}
			printStats(cmd, stats)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "create <slug>",
		Short: "Scaffold a new data migration source file",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			path, err := scaffoldDataMigration(migrationsDir, args[0])
			if err != nil {
				fail(cmd, err)
				return
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
		},
	})

	var dryRun bool
	var batchSize, maxErrors, limit int
	var failureMode string
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run every pending data migration in dependency order",
		Run: func(cmd *cobra.Command, args []string) {
			cfg, err := redisom.LoadRunConfig(migrationsDir)
			if err != nil {
				fail(cmd, err)
				return
			}
			opts := cfg.ApplyTo(redisom.RunOptions{
				DryRun: dryRun, BatchSize: batchSize, MaxErrors: maxErrors,
				Limit: limit, FailureMode: redisom.FailureMode(failureMode),
			})
			m := redisom.NewDataMigrator(conn, reg.DataMigrations)
			counts, err := m.RunAll(cmd.Context(), opts)
			printCounts(cmd, counts)
			if err != nil {
				fail(cmd, err)
				return
			}
			if anyErrored(counts) {
				exitWith(ExitPartial)
			}
		},
	}
	runCmd.Flags().BoolVar(&dryRun, "dry-run", false, "transform and report without writing or marking applied")
	runCmd.Flags().IntVar(&batchSize, "batch-size", 0, "SCAN batch size (default 1000, or migrate.toml)")
	runCmd.Flags().StringVar(&failureMode, "failure-mode", "", "fail|skip|log_and_skip|default (default fail, or migrate.toml)")
	runCmd.Flags().IntVar(&maxErrors, "max-errors", 0, "abort after this many errored keys (0 = unlimited)")
	runCmd.Flags().IntVar(&limit, "limit", 0, "cap the number of keys processed this run (0 = unlimited)")
	cmd.AddCommand(runCmd)

	var checkData bool
	verifyCmd := &cobra.Command{
		Use:   "verify",
		Short: "Check schema drift, optionally sampling stored data",
		Run: func(cmd *cobra.Command, args []string) {
			m := redisom.NewDataMigrator(conn, reg.DataMigrations)
			report, err := m.Verify(cmd.Context(), reg.Schemas, checkData, 100)
			if err != nil {
				fail(cmd, err)
				return
			}
			for _, d := range report.Drifts {
				fmt.Fprintf(cmd.OutOrStdout(), "drift: %s.%s server=%s expected=%s index=%s\n",
					d.Record, d.Field, d.ServerKind, d.ExpectedKind, d.Index)
			}
			for record, keys := range report.UndecodableKeys {
				fmt.Fprintf(cmd.OutOrStdout(), "undecodable: %s: %s\n", record, strings.Join(keys, ", "))
			}
			if len(report.Drifts) > 0 {
				exitWith(ExitFatal)
			}
		},
	}
	verifyCmd.Flags().BoolVar(&checkData, "check-data", false, "also sample stored records for undecodable datetime fields")
	cmd.AddCommand(verifyCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "rollback <id>",
		Short: "Roll back one applied data migration",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			m := redisom.NewDataMigrator(conn, reg.DataMigrations)
			counts, err := m.Rollback(cmd.Context(), args[0], 0)
			printCounts(cmd, map[string]redisom.Counts{args[0]: counts})
			if err != nil {
				fail(cmd, err)
			}
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "progress",
		Short: "Print the checkpoint for every registered migration",
		Run: func(cmd *cobra.Command, args []string) {
			m := redisom.NewDataMigrator(conn, reg.DataMigrations)
			for id := range m.Migrations {
				p, err := m.Progress(cmd.Context(), id)
				if err != nil {
					fail(cmd, err)
					return
				}
				if p == nil {
					fmt.Fprintf(cmd.OutOrStdout(), "%-24s (no checkpoint)\n", id)
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%-24s cursor=%s seen=%d ok=%d skipped=%d errored=%d\n",
					id, p.LastKey, p.Counts.Seen, p.Counts.OK, p.Counts.Skipped, p.Counts.Errored)
			}
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "clear-progress <id>",
		Short: "Delete a migration's checkpoint, forcing a fresh SCAN next run",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			m := redisom.NewDataMigrator(conn, reg.DataMigrations)
			if err := m.ClearProgress(cmd.Context(), args[0]); err != nil {
				fail(cmd, err)
			}
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "check-schema",
		Short: "Compare server index kinds against in-memory schemas",
		Run: func(cmd *cobra.Command, args []string) {
			m := redisom.NewDataMigrator(conn, reg.DataMigrations)
			drifts, err := m.CheckSchema(cmd.Context(), reg.Schemas)
			if err != nil {
				fail(cmd, err)
				return
			}
			for _, d := range drifts {
				fmt.Fprintf(cmd.OutOrStdout(), "%s.%s: server=%s expected=%s\n", d.Record, d.Field, d.ServerKind, d.ExpectedKind)
			}
			if len(drifts) > 0 {
				exitWith(ExitFatal)
			}
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Alias of status",
		Run: func(cmd *cobra.Command, args []string) {
			m := redisom.NewDataMigrator(conn, reg.DataMigrations)
			stats, err := m.Stats(cmd.Context())
			if err != nil {
				fail(cmd, err)
				return
			}
			printStats(cmd, stats)
		},
	})

	return cmd
}

func anyErrored(counts map[string]redisom.Counts) bool {
	for _, c := range counts {
		if c.Errored > 0 {
			return true
		}
	}
	return false
}

func printCounts(cmd *cobra.Command, counts map[string]redisom.Counts) {
	for id, c := range counts {
		fmt.Fprintf(cmd.OutOrStdout(), "%-24s seen=%d ok=%d skipped=%d errored=%d\n", id, c.Seen, c.OK, c.Skipped, c.Errored)
	}
}

func printStats(cmd *cobra.Command, stats []redisom.MigrationStat) {
	for _, s := range stats {
		applied := "pending"
		if s.Applied {
			applied = "applied"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%-24s %s\n", s.ID, applied)
	}
}

const dataMigrationTemplate = `package migrations

import (
	"context"

	"github.com/gustavotero7/redisom"
)

// %s transforms one key. Register it with redisom.NewDataMigrator.
func %s() *redisom.DataMigration {
	return &redisom.DataMigration{
		ID:         %q,
		KeyPattern: "*", // TODO: narrow to one record type's AllKeysPattern
		Up: func(ctx context.Context, conn redisom.Conn, key string) error {
			// TODO: transform the stored value at key
			return nil
		},
	}
}
`

func scaffoldDataMigration(migrationsDir, slug string) (string, error) {
	dir := migrationsDir + "/data-migrations"
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", &redisom.MigrationError{Err: err}
	}
	id := time.Now().UTC().Format("20060102_150405") + "_" + slug
	fn := exportedName(slug)
	path := dir + "/" + id + ".go"
	body := fmt.Sprintf(dataMigrationTemplate, fn, fn, id)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		return "", &redisom.MigrationError{Migration: id, Err: err}
	}
	return path, nil
}

func exportedName(slug string) string {
	parts := strings.FieldsFunc(slug, func(r rune) bool { return r == '_' || r == '-' })
	var b strings.Builder
	for _, p := range parts {
		if p == "" {
			continue
		}
		b.WriteString(strings.ToUpper(p[:1]))
		b.WriteString(p[1:])
	}
	if b.Len() == 0 {
		return "Migration"
	}
	return b.String()
}
