package cli

import (
	"context"
	"fmt"
	"strconv"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/mkai/pkg/model"
	"github.com/urfave/cli/v3"
)

// sessionAt resolves a 1-based position in the session list
func sessionAt(sessions []*model.ChatSession, arg string) (*model.ChatSession, error) {
	n, err := strconv.Atoi(arg)
	if err != nil {
		return nil, goerr.Wrap(err, "session number must be an integer", goerr.V("arg", arg))
	}
	if n < 1 || n > len(sessions) {
		return nil, goerr.New("no such session", goerr.V("number", n), goerr.V("count", len(sessions)))
	}
	return sessions[n-1], nil
}

func sessionsCommand() *cli.Command {
	var cfg config

	return &cli.Command{
		Name:  "sessions",
		Usage: "Manage stored conversations",
		Commands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List conversations, newest first",
				Flags: globalFlags(&cfg),
				Action: func(ctx context.Context, c *cli.Command) error {
					ctx = cfg.setupLogger(ctx)
					ctrl, err := cfg.newOfflineController(ctx)
					if err != nil {
						return err
					}

					printSessions(c.Root().Writer, ctrl.Sessions(), ctrl.ActiveSession())
					return nil
				},
			},
			{
				Name:      "show",
				Usage:     "Print every message of a conversation",
				ArgsUsage: "<number>",
				Flags:     globalFlags(&cfg),
				Action: func(ctx context.Context, c *cli.Command) error {
					ctx = cfg.setupLogger(ctx)
					ctrl, err := cfg.newOfflineController(ctx)
					if err != nil {
						return err
					}

					session, err := sessionAt(ctrl.Sessions(), c.Args().First())
					if err != nil {
						return err
					}

					printSession(c.Root().Writer, session)
					return nil
				},
			},
			{
				Name:      "delete",
				Usage:     "Delete a conversation",
				ArgsUsage: "<number>",
				Flags:     globalFlags(&cfg),
				Action: func(ctx context.Context, c *cli.Command) error {
					ctx = cfg.setupLogger(ctx)
					ctrl, err := cfg.newOfflineController(ctx)
					if err != nil {
						return err
					}

					session, err := sessionAt(ctrl.Sessions(), c.Args().First())
					if err != nil {
						return err
					}
					if err := ctrl.DeleteSession(ctx, session.ID); err != nil {
						return err
					}

					fmt.Fprintf(c.Root().Writer, "Deleted %q\n", session.Title)
					return nil
				},
			},
		},
	}
}
