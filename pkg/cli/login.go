package cli

import (
	"context"
	"fmt"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/mkai/pkg/model"
	"github.com/m-mizutani/mkai/pkg/usecase/conversation"
	"github.com/urfave/cli/v3"
)

// ensureUser logs in as a guest when no identity is stored
func ensureUser(ctx context.Context, ctrl *conversation.Controller) (*model.User, error) {
	if user := ctrl.User(); user != nil {
		return user, nil
	}

	user := model.NewGuestUser()
	if err := ctrl.Login(ctx, user); err != nil {
		return nil, goerr.Wrap(err, "failed to login as guest")
	}
	return user, nil
}

func describeUser(user *model.User) string {
	if user == nil {
		return "not logged in"
	}
	if user.IsGuest {
		return fmt.Sprintf("%s (%s)", user.Name, user.ID)
	}
	if user.Email != "" {
		return fmt.Sprintf("%s <%s> (%s)", user.Name, user.Email, user.ID)
	}
	return fmt.Sprintf("%s (%s)", user.Name, user.ID)
}

func loginCommand() *cli.Command {
	var (
		cfg      config
		guest    bool
		name     string
		email    string
		photoURL string
	)

	flags := []cli.Flag{
		&cli.BoolFlag{
			Name:        "guest",
			Usage:       "Continue as an anonymous guest",
			Destination: &guest,
		},
		&cli.StringFlag{
			Name:        "name",
			Aliases:     []string{"n"},
			Usage:       "Display name",
			Destination: &name,
		},
		&cli.StringFlag{
			Name:        "email",
			Aliases:     []string{"e"},
			Usage:       "Email address",
			Destination: &email,
		},
		&cli.StringFlag{
			Name:        "photo-url",
			Usage:       "Profile picture URL",
			Destination: &photoURL,
		},
	}
	flags = append(flags, globalFlags(&cfg)...)

	return &cli.Command{
		Name:  "login",
		Usage: "Set the identity conversations are held under",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx = cfg.setupLogger(ctx)

			var user *model.User
			switch {
			case guest:
				user = model.NewGuestUser()
			case name != "":
				user = model.NewUser(name, email, photoURL)
			default:
				return goerr.New("either --guest or --name is required")
			}

			ctrl, err := cfg.newOfflineController(ctx)
			if err != nil {
				return err
			}
			if err := ctrl.Login(ctx, user); err != nil {
				return err
			}

			fmt.Fprintf(c.Root().Writer, "Logged in as %s\n", describeUser(user))
			return nil
		},
	}
}

func logoutCommand() *cli.Command {
	var cfg config

	return &cli.Command{
		Name:  "logout",
		Usage: "Forget the stored identity. Conversations are kept.",
		Flags: globalFlags(&cfg),
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx = cfg.setupLogger(ctx)

			ctrl, err := cfg.newOfflineController(ctx)
			if err != nil {
				return err
			}
			if err := ctrl.Logout(ctx); err != nil {
				return err
			}

			fmt.Fprintln(c.Root().Writer, "Logged out")
			return nil
		},
	}
}
