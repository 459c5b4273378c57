package cmd

import (
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/ticketbridge/internal/api"
	"github.com/ticketbridge/internal/config"
	"github.com/ticketbridge/internal/ticketsync"
)

func orgFlag() cli.Flag {
	return &cli.Int64Flag{
		Name:     "org",
		Usage:    "Organization `ID`",
		Required: true,
	}
}

// InstallCommand installs the helpdesk webhook and trigger for one
// organization without going through the job queue.
func InstallCommand() *cli.Command {
	return &cli.Command{
		Name:  "install",
		Usage: "Install the helpdesk webhook and trigger for an organization",
		Flags: []cli.Flag{orgFlag()},
		Action: func(c *cli.Context) error {
			rt, err := newRuntime(c, false)
			if err != nil {
				return err
			}
			defer rt.Close()

			org, err := rt.organization(c.Context, c.Int64("org"))
			if err != nil {
				return err
			}
			if err := rt.installer.Install(c.Context, org); err != nil {
				return fmt.Errorf("install failed: %w", err)
			}
			fmt.Printf("Installed helpdesk automation for %s; deliveries go to %s\n", org.Slug, rt.installer.WebhookEndpoint(org.ID))
			return nil
		},
	}
}

func UninstallCommand() *cli.Command {
	return &cli.Command{
		Name:  "uninstall",
		Usage: "Remove the helpdesk webhook and trigger for an organization",
		Flags: []cli.Flag{orgFlag()},
		Action: func(c *cli.Context) error {
			rt, err := newRuntime(c, false)
			if err != nil {
				return err
			}
			defer rt.Close()

			org, err := rt.organization(c.Context, c.Int64("org"))
			if err != nil {
				return err
			}
			if err := rt.installer.Uninstall(c.Context, org); err != nil {
				return fmt.Errorf("uninstall failed: %w", err)
			}
			fmt.Printf("Removed helpdesk automation for %s\n", org.Slug)
			return nil
		},
	}
}

// SyncCommand runs one inbound sync for a ticket in the foreground.
func SyncCommand() *cli.Command {
	return &cli.Command{
		Name:  "sync",
		Usage: "Import new activity from one ticket into its chat thread",
		Flags: []cli.Flag{
			orgFlag(),
			&cli.StringFlag{
				Name:     "ticket-url",
				Usage:    "Ticket API or agent URL",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "status",
				Usage: "Ticket status to reconcile, as the webhook would send it",
			},
			&cli.Int64Flag{
				Name:  "user",
				Usage: "Helpdesk user `ID` that changed the status",
			},
			&cli.BoolFlag{
				Name:  "from-start",
				Usage: "Reset the comment marker and import the whole ticket history",
			},
		},
		Action: func(c *cli.Context) error {
			rt, err := newRuntime(c, false)
			if err != nil {
				return err
			}
			defer rt.Close()

			if c.Bool("from-start") {
				if err := rt.engine.ResetCommentMarker(c.Context, c.Int64("org"), c.String("ticket-url")); err != nil {
					return err
				}
			}
			result, err := rt.engine.ImportTicketActivity(c.Context, ticketsync.InboundRequest{
				OrgID:          c.Int64("org"),
				TicketURL:      c.String("ticket-url"),
				Status:         c.String("status"),
				ExternalUserID: c.Int64("user"),
			}, ticketsync.RetryBudget{Attempt: 1, MaxAttempts: 1})
			if err != nil {
				return err
			}
			fmt.Printf("seen=%d posted=%d skipped=%d failed=%d aborted=%t status_changed=%t closed=%t\n",
				result.Seen, result.Posted, result.Skipped, result.Failed, result.Aborted, result.StatusChanged, result.Closed)
			return nil
		},
	}
}

// TokenCommand prints a bearer token for the event API.
func TokenCommand() *cli.Command {
	return &cli.Command{
		Name:  "token",
		Usage: "Issue an event API token for an organization",
		Flags: []cli.Flag{
			orgFlag(),
			&cli.DurationFlag{
				Name:  "ttl",
				Usage: "Token lifetime",
				Value: 365 * 24 * time.Hour,
			},
		},
		Action: func(c *cli.Context) error {
			cfg, err := config.LoadConfig(c.String("config"))
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if cfg.Server.JWTSecret == "" {
				return fmt.Errorf("server jwt_secret is required")
			}
			token, err := api.IssueToken(cfg.Server.JWTSecret, c.Int64("org"), c.Duration("ttl"))
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}
}
