package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/chzyer/readline"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/mkai/pkg/media"
	"github.com/m-mizutani/mkai/pkg/usecase/conversation"
	"github.com/m-mizutani/mkai/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

const chatHelp = `Type a message and press Enter to send it. Commands:
  /image <path>   attach an image to the next message
  /new            start a new conversation
  /sessions       list conversations
  /switch <n>     switch to conversation n
  /delete <n>     delete conversation n
  /save [file]    save the last generated image (default mk-ai-image.png)
  /whoami         show the current identity
  /logout         forget the identity and quit
  /help           show this help
  /exit           quit`

var errQuit = goerr.New("quit")

// repl holds the state of an interactive chat
type repl struct {
	ctrl    *conversation.Controller
	w       io.Writer
	pending string // data URI attached to the next turn
}

func chatCommand() *cli.Command {
	var cfg config

	flags := globalFlags(&cfg)
	flags = append(flags, llmFlags(&cfg)...)

	return &cli.Command{
		Name:  "chat",
		Usage: "Interactive conversation with MK AI",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx = cfg.setupLogger(ctx)
			w := c.Root().Writer

			spin := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(os.Stderr))
			spin.Suffix = " Thinking..."

			ctrl, err := cfg.newController(ctx, conversation.WithStateHook(func(ctx context.Context, state conversation.TurnState) {
				switch state {
				case conversation.StateClassifying:
					spin.Start()
				case conversation.StateIdle:
					spin.Stop()
				}
			}))
			if err != nil {
				return err
			}

			user, err := ensureUser(ctx, ctrl)
			if err != nil {
				return err
			}

			rl, err := readline.NewEx(&readline.Config{
				Prompt:          "> ",
				HistoryFile:     historyFile(),
				InterruptPrompt: "^C",
				EOFPrompt:       "/exit",
			})
			if err != nil {
				return goerr.Wrap(err, "failed to initialize readline")
			}
			defer rl.Close()

			fmt.Fprintf(w, "Welcome, %s. Type /help for commands.\n", user.Name)
			if active := ctrl.ActiveSession(); active != nil {
				fmt.Fprintf(w, "Continuing %q\n", active.Title)
			}

			r := &repl{ctrl: ctrl, w: w}
			for {
				if r.pending != "" {
					rl.SetPrompt("[image] > ")
				} else {
					rl.SetPrompt("> ")
				}

				line, err := rl.Readline()
				if errors.Is(err, readline.ErrInterrupt) {
					if line == "" {
						break
					}
					continue
				}
				if errors.Is(err, io.EOF) {
					break
				}
				if err != nil {
					return goerr.Wrap(err, "failed to read input")
				}

				if err := r.handle(ctx, line); err != nil {
					if errors.Is(err, errQuit) {
						break
					}
					fmt.Fprintf(w, "Error: %s\n", err.Error())
				}

				if ctx.Err() != nil {
					break
				}
			}

			fmt.Fprintln(w, "Bye")
			return nil
		},
	}
}

// historyFile returns the readline history path, or "" to disable history
func historyFile() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		return ""
	}
	dir = filepath.Join(dir, "mkai")
	if err := os.MkdirAll(dir, 0700); err != nil {
		return ""
	}
	return filepath.Join(dir, "history")
}

// handle processes one input line
func (r *repl) handle(ctx context.Context, line string) error {
	line = strings.TrimSpace(line)
	if strings.HasPrefix(line, "/") {
		return r.command(ctx, line)
	}
	if line == "" && r.pending == "" {
		return nil
	}
	return r.send(ctx, line)
}

func (r *repl) send(ctx context.Context, text string) error {
	msg, err := r.ctrl.Send(ctx, text, r.pending)
	if err != nil {
		return err
	}
	r.pending = ""

	printMessage(r.w, msg)
	return nil
}

func (r *repl) command(ctx context.Context, line string) error {
	name, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	switch name {
	case "/image":
		if arg == "" {
			return goerr.New("usage: /image <path>")
		}
		uri, err := media.EncodeFile(ctx, arg)
		if err != nil {
			return err
		}
		r.pending = uri
		fmt.Fprintf(r.w, "Attached %s. Type a message, or press Enter to send the image alone.\n", filepath.Base(arg))

	case "/new":
		r.ctrl.NewSession(ctx)
		fmt.Fprintln(r.w, "Started a new conversation")

	case "/sessions":
		printSessions(r.w, r.ctrl.Sessions(), r.ctrl.ActiveSession())

	case "/switch":
		session, err := sessionAt(r.ctrl.Sessions(), arg)
		if err != nil {
			return err
		}
		if err := r.ctrl.Select(session.ID); err != nil {
			return err
		}
		printSession(r.w, session)

	case "/delete":
		session, err := sessionAt(r.ctrl.Sessions(), arg)
		if err != nil {
			return err
		}
		if err := r.ctrl.DeleteSession(ctx, session.ID); err != nil {
			return err
		}
		fmt.Fprintf(r.w, "Deleted %q\n", session.Title)

	case "/save":
		image := lastImage(r.ctrl.ActiveSession())
		if image == "" {
			return goerr.New("no image in this conversation")
		}
		filename := arg
		if filename == "" {
			filename = media.DefaultFilename
		}
		if err := media.SaveLocally(image, filename); err != nil {
			logging.From(ctx).Error("failed to save image", "error", err, "path", filename)
			return err
		}
		fmt.Fprintf(r.w, "Saved image to %s\n", filename)

	case "/whoami":
		fmt.Fprintln(r.w, describeUser(r.ctrl.User()))

	case "/logout":
		if err := r.ctrl.Logout(ctx); err != nil {
			return err
		}
		fmt.Fprintln(r.w, "Logged out")
		return errQuit

	case "/help":
		fmt.Fprintln(r.w, chatHelp)

	case "/exit", "/quit":
		return errQuit

	default:
		return goerr.New("unknown command, type /help", goerr.V("command", name))
	}

	return nil
}
