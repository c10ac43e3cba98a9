package cli

import (
	"context"
	"fmt"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/mkai/pkg/media"
	"github.com/m-mizutani/mkai/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

func sendCommand() *cli.Command {
	var (
		cfg        config
		message    string
		imagePath  string
		saveTo     string
		newSession bool
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "message",
			Aliases:     []string{"m"},
			Usage:       "Message to send",
			Destination: &message,
		},
		&cli.StringFlag{
			Name:        "image",
			Aliases:     []string{"i"},
			Usage:       "Path of an image to attach",
			Destination: &imagePath,
		},
		&cli.StringFlag{
			Name:        "save",
			Aliases:     []string{"o"},
			Usage:       "Save a returned image to this file",
			Destination: &saveTo,
		},
		&cli.BoolFlag{
			Name:        "new",
			Usage:       "Start a new conversation for this message",
			Destination: &newSession,
		},
	}
	flags = append(flags, globalFlags(&cfg)...)
	flags = append(flags, llmFlags(&cfg)...)

	return &cli.Command{
		Name:  "send",
		Usage: "Send one message in the active conversation and print the answer",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx = cfg.setupLogger(ctx)
			w := c.Root().Writer

			ctrl, err := cfg.newController(ctx)
			if err != nil {
				return err
			}
			if _, err := ensureUser(ctx, ctrl); err != nil {
				return err
			}

			var imageURI string
			if imagePath != "" {
				imageURI, err = media.EncodeFile(ctx, imagePath)
				if err != nil {
					return goerr.Wrap(err, "failed to attach image")
				}
			}

			if newSession {
				ctrl.NewSession(ctx)
			}

			msg, err := ctrl.Send(ctx, message, imageURI)
			if err != nil {
				return err
			}
			printMessage(w, msg)

			if msg.ImageURL != "" && saveTo != "" {
				if err := media.SaveLocally(msg.ImageURL, saveTo); err != nil {
					logging.From(ctx).Error("failed to save image", "error", err, "path", saveTo)
				} else {
					fmt.Fprintf(w, "Saved image to %s\n", saveTo)
				}
			}

			return nil
		},
	}
}
