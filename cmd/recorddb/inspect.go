package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"recorddb/dbschema"
	"recorddb/engine"
	"recorddb/lockmgr"
)

var inspectSchemaName string

var inspectCmd = &cobra.Command{
	Use:   "inspect <data-file>",
	Short: "Dump a data file's logical schema, live-record count, and lock state",
	Args:  cobra.ExactArgs(1),
	RunE:  inspectRun,
}

func init() {
	inspectCmd.Flags().StringVar(&inspectSchemaName, "schema", "v2", "logical schema to open with: v1 or v2")
}

func inspectRun(cmd *cobra.Command, args []string) error {
	logical, err := logicalSchema(inspectSchemaName)
	if err != nil {
		return err
	}

	e, err := engine.Open(args[0], logical, lockmgr.DefaultConfig(), log)
	if err != nil {
		return err
	}
	defer e.Close()

	fmt.Printf("schema %q, %d logical columns:\n", inspectSchemaName, logical.ColumnCount())
	for _, name := range logical.ColumnNames() {
		pk := ""
		if isPrimaryKey(logical, name) {
			pk = " (pk)"
		}
		fmt.Printf("  %-10s %3d bytes%s\n", name, logical.ColumnLength(name), pk)
	}

	_, rows, err := e.Find(make([]*string, logical.ColumnCount()))
	switch {
	case err == nil:
		fmt.Printf("\n%d live record(s)\n", len(rows))
	default:
		fmt.Printf("\n0 live records\n")
	}

	locks := e.LockSnapshot()
	fmt.Printf("\n%d lock(s) currently held:\n", len(locks))
	for _, li := range locks {
		printLockInfo(li)
	}

	return nil
}

func isPrimaryKey(schema *dbschema.Schema, name string) bool {
	idx := schema.ColumnIndex(name)
	for _, pkIdx := range schema.PrimaryKeyIndices() {
		if pkIdx == idx {
			return true
		}
	}
	return false
}

func printLockInfo(li lockmgr.LockInfo) {
	state := "clean"
	switch {
	case li.PendingDelete:
		state = "pending-delete"
	case li.HasPendingData:
		state = "pending-update"
	}
	fmt.Printf("  record %d: owner=%s age=%s state=%s\n", li.RecordNumber, li.Owner, li.Age, state)
}
