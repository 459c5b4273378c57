package cmd

import (
	"github.com/urfave/cli/v2"

	"github.com/ticketbridge/internal/database"
)

// MigrateCommand creates the service tables and the job queue schema.
func MigrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Create or update the database schema",
		Action: func(c *cli.Context) error {
			rt, err := newRuntime(c, true)
			if err != nil {
				return err
			}
			defer rt.Close()
			return database.Migrate(c.Context, rt.db, rt.pool, rt.logger)
		},
	}
}
