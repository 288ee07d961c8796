package main

import (
	"context"
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/layer-3/powgate/client"
)

func loginCmd() *cli.Command {
	return &cli.Command{
		Name:  "login",
		Usage: "Run the login handshake against a server and print the session token",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "server",
				Usage:   "Base URL of the server",
				Value:   "http://localhost:8080",
				EnvVars: []string{"POWGATE_SERVER"},
			},
			&cli.StringFlag{
				Name:     "username",
				Aliases:  []string{"u"},
				Required: true,
			},
			&cli.StringFlag{
				Name:    "password",
				Usage:   "Account password",
				EnvVars: []string{"POWGATE_PASSWORD"},
			},
			&cli.IntFlag{
				Name:  "max-iterations",
				Usage: "Give up solving the challenge after this many attempts",
				Value: client.DefaultMaxIterations,
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Value: 2 * time.Minute,
			},
		},
		Action: func(appCtx *cli.Context) error {
			password := appCtx.String("password")
			if password == "" {
				return fmt.Errorf("password is required, use --password or POWGATE_PASSWORD")
			}

			c, err := client.New(appCtx.String("server"), client.WithMaxIterations(appCtx.Int("max-iterations")))
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(appCtx.Context, appCtx.Duration("timeout"))
			defer cancel()

			start := time.Now()
			result, err := c.Login(ctx, appCtx.String("username"), password)
			if err != nil {
				return err
			}

			fmt.Fprintf(appCtx.App.ErrWriter, "logged in as %s (%s) in %s\n", result.User.Username, result.User.Type, time.Since(start).Round(time.Millisecond))
			_, err = fmt.Fprintln(appCtx.App.Writer, result.Token)
			return err
		},
	}
}
