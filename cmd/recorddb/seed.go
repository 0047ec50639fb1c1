package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"recorddb/datafile"
	"recorddb/dbschema"
	"recorddb/fileschema"
)

var (
	seedOut        string
	seedSchemaName string
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Create a fresh data file with a valid header and schema section",
	Long: "Seed writes a brand-new data file containing only a header and schema\n" +
		"section — zero data rows — so the engine has something to open and\n" +
		"operate on from nothing. The original format never shipped this\n" +
		"tooling because its data files always pre-existed.",
	RunE: seedRun,
}

func init() {
	fs := seedCmd.Flags()
	fs.StringVarP(&seedOut, "out", "o", "", "data file `path` to create (required)")
	fs.StringVar(&seedSchemaName, "schema", "v2", "logical schema to seed: v1 or v2")
	seedCmd.MarkFlagRequired("out")
}

func seedRun(cmd *cobra.Command, args []string) error {
	logical, err := logicalSchema(seedSchemaName)
	if err != nil {
		return err
	}

	fields := onDiskFields(logical)
	if err := validateFields(fields); err != nil {
		return err
	}

	if err := writeSeed(seedOut, fields); err != nil {
		return err
	}

	fmt.Printf("recorddb: seeded %s with schema %q (%d fields, %d bytes/record)\n",
		seedOut, seedSchemaName, len(fields), totalLength(fields))
	return nil
}

func logicalSchema(name string) (*dbschema.Schema, error) {
	switch name {
	case "v1":
		return dbschema.V1(), nil
	case "v2":
		return dbschema.V2(), nil
	default:
		return nil, fmt.Errorf("recorddb: unknown schema %q (want v1 or v2)", name)
	}
}

// onDiskFields collapses the logical schema's columns back into the
// physical field list a freshly seeded file should carry: V2's split
// name/room pair is merged back into one 64-byte "name" field, matching
// the legacy on-disk layout that datafile.Open's split step expects to
// find and re-split in memory on open.
func onDiskFields(logical *dbschema.Schema) []fileschema.Field {
	var fields []fileschema.Field
	skipRoom := logical.ColumnIndex(dbschema.Room) >= 0

	for _, name := range logical.ColumnNames() {
		if name == dbschema.Room {
			continue
		}
		length := logical.ColumnLength(name)
		if name == dbschema.Name && skipRoom {
			length += logical.ColumnLength(dbschema.Room)
		}
		fields = append(fields, fileschema.Field{Name: name, Length: length})
	}
	return fields
}

func totalLength(fields []fileschema.Field) int {
	total := 0
	for _, f := range fields {
		total += f.Length
	}
	return total
}

func validateFields(fields []fileschema.Field) error {
	if len(fields) == 0 {
		return fmt.Errorf("recorddb: schema has no fields")
	}
	for _, f := range fields {
		if f.Length <= 0 {
			return fmt.Errorf("recorddb: field %q has non-positive length %d", f.Name, f.Length)
		}
	}
	return nil
}

// seedMagic is the 4-byte cookie stamped into every file this command
// creates. The format never validates it beyond storing and echoing it
// back (spec §6), so any 4 bytes would do; these spell "RDB1".
var seedMagic = [4]byte{'R', 'D', 'B', '1'}

func writeSeed(path string, fields []fileschema.Field) error {
	return datafile.Create(path, seedMagic, fields)
}
