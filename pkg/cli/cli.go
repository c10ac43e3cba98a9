package cli

import (
	"context"

	"github.com/urfave/cli/v3"
)

type Error struct {
	Code    int
	Message string
}

func Run(ctx context.Context, argv []string) *Error {
	cmd := &cli.Command{
		Name:  "mkai",
		Usage: "MK AI assistant: chat, web search, image generation and image editing",
		Commands: []*cli.Command{
			chatCommand(),
			sendCommand(),
			sessionsCommand(),
			loginCommand(),
			logoutCommand(),
			serveCommand(),
		},
	}

	if err := cmd.Run(ctx, argv); err != nil {
		return &Error{
			Code:    1,
			Message: err.Error(),
		}
	}

	return nil
}
