package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jonathan/iety/internal/db"
)

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Print the database schema",
	Long:  `Prints the SQL of every up migration in order, without connecting to a database.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		sql, err := db.SchemaSQL()
		if err != nil {
			return err
		}
		_, err = fmt.Fprint(cmd.OutOrStdout(), sql)
		return err
	},
}

func init() {
	rootCmd.AddCommand(schemaCmd)
}
