package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/RealZimboGuy/freightflow/internal/config"
	"github.com/RealZimboGuy/freightflow/internal/controllers"
	"github.com/RealZimboGuy/freightflow/pkg/freightflow"
	"github.com/RealZimboGuy/freightflow/pkg/freightflow/models"
	cli "github.com/urfave/cli/v3"
)

func main() {
	cmd := &cli.Command{
		Name:                  "freightflow",
		Usage:                 "Monitor freight routes and notify customers about traffic delays",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars(config.LOG_LEVEL),
			},
			&cli.StringFlag{
				Name:    "server",
				Usage:   "Base URL of the freightflow API",
				Value:   "http://localhost:8080",
				Sources: cli.EnvVars("FREIGHT_SERVER_URL"),
			},
			&cli.StringFlag{
				Name:    "api-key",
				Usage:   "API key sent as X-API-Key",
				Sources: cli.EnvVars("FREIGHT_API_KEY"),
			},
		},
		Before: func(ctx context.Context, command *cli.Command) (context.Context, error) {
			freightflow.SetupLogger(command.String("log-level"))
			return ctx, nil
		},
		Commands: []*cli.Command{
			newServeCommand(),
			newStartCommand(),
			newStatusCommand(),
			newCancelCommand(),
			newHashKeyCommand(),
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := cmd.Run(ctx, os.Args); err != nil {
		slog.Error("freightflow exited with error", "error", err)
		os.Exit(1)
	}
}

func newServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the workflow engine and the HTTP API",
		Action: func(ctx context.Context, command *cli.Command) error {
			return freightflow.Start(ctx, nil)
		},
	}
}

func client(command *cli.Command) *freightflow.Client {
	return freightflow.NewClient(command.String("server"), command.String("api-key"))
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newStartCommand() *cli.Command {
	return &cli.Command{
		Name:  "start",
		Usage: "Start a delay check for a route",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "id", Usage: "Execution id, generated when empty"},
			&cli.StringFlag{Name: "origin", Usage: "Route origin", Required: true},
			&cli.StringFlag{Name: "destination", Usage: "Route destination", Required: true},
			&cli.FloatFlag{Name: "threshold", Usage: "Delay threshold in minutes", Value: 30},
			&cli.BoolFlag{Name: "notify", Usage: "Notify the recipient when the delay exceeds the threshold"},
			&cli.StringFlag{Name: "channel", Usage: "EMAIL or SMS"},
			&cli.StringFlag{Name: "email", Usage: "Recipient email address"},
			&cli.StringFlag{Name: "phone", Usage: "Recipient phone number (E.164)"},
			&cli.StringFlag{Name: "business-key", Usage: "Free form reference stored with the execution"},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			req := models.StartExecutionRequest{
				ExecutionID: command.String("id"),
				BusinessKey: command.String("business-key"),
				Request: models.WorkflowRequest{
					Origin:           command.String("origin"),
					Destination:      command.String("destination"),
					ThresholdMinutes: command.Float("threshold"),
					Notify:           command.Bool("notify"),
					RecipientChannel: models.ParseChannel(command.String("channel")),
					Recipient: models.Recipient{
						Email: command.String("email"),
						Phone: command.String("phone"),
					},
				},
			}
			res, err := client(command).StartExecution(ctx, req)
			if res != nil {
				if perr := printJSON(res); perr != nil {
					return perr
				}
			}
			return err
		},
	}
}

func newStatusCommand() *cli.Command {
	return &cli.Command{
		Name:      "status",
		Usage:     "Show the state of an execution",
		ArgsUsage: "<executionId>",
		Action: func(ctx context.Context, command *cli.Command) error {
			id := command.Args().First()
			if id == "" {
				return errors.New("executionId is required")
			}
			res, err := client(command).GetExecution(ctx, id)
			if err != nil {
				return err
			}
			return printJSON(res)
		},
	}
}

func newCancelCommand() *cli.Command {
	return &cli.Command{
		Name:      "cancel",
		Usage:     "Cancel an execution at its next phase boundary",
		ArgsUsage: "<executionId>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "reason", Usage: "Reason recorded on the execution"},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			id := command.Args().First()
			if id == "" {
				return errors.New("executionId is required")
			}
			if err := client(command).CancelExecution(ctx, id, command.String("reason")); err != nil {
				return err
			}
			fmt.Printf("cancellation of %s requested\n", id)
			return nil
		},
	}
}

func newHashKeyCommand() *cli.Command {
	return &cli.Command{
		Name:      "hash-key",
		Usage:     "Print the bcrypt hash of an API key for " + config.API_KEY_HASHES,
		ArgsUsage: "<key>",
		Action: func(ctx context.Context, command *cli.Command) error {
			key := command.Args().First()
			if key == "" {
				return errors.New("key is required")
			}
			hash, err := controllers.HashApiKey(key)
			if err != nil {
				return err
			}
			fmt.Println(hash)
			return nil
		},
	}
}
