// Command redisom-migrate is the standalone entry point for redisom's
// migration CLI (spec.md §6.6). It carries no application-specific record
// types of its own — those only exist inside the application importing
// redisom — so applications embed cli.NewRootCommand in their own main,
// passing their own Registry. This binary wires an empty registry purely so
// "migrate status"/"migrate-data status" work against whatever migration
// files and applied-sets already exist on the target server.
package main

import (
	"fmt"
	"os"

	"github.com/gustavotero7/redisom"
	"github.com/gustavotero7/redisom/cli"
)

func main() {
	conn, err := redisom.Connect("")
	if err != nil {
		fmt.Fprintln(os.Stderr, "redisom-migrate:", err)
		os.Exit(cli.ExitFatal)
	}
	dir := redisom.MigrationsDir("")

	root := cli.NewRootCommand(conn, dir, cli.Registry{
		Schemas: map[string]*redisom.CompiledSchema{},
	})
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "redisom-migrate:", err)
		os.Exit(cli.ExitFatal)
	}
}
