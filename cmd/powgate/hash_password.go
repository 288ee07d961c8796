package main

import (
	"bufio"
	"errors"
	"fmt"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/layer-3/powgate/adapters/credentials"
)

func hashPasswordCmd() *cli.Command {
	return &cli.Command{
		Name:      "hash-password",
		Usage:     "Print the argon2id hash of a password read from stdin, for static accounts",
		ArgsUsage: " ",
		Action: func(appCtx *cli.Context) error {
			line, err := bufio.NewReader(appCtx.App.Reader).ReadString('\n')
			if err != nil && line == "" {
				return fmt.Errorf("failed to read password: %w", err)
			}
			password := strings.TrimRight(line, "\r\n")
			if password == "" {
				return errors.New("password must not be empty")
			}

			hash, err := credentials.NewHasher(credentials.DefaultArgon2Params).Hash(password)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(appCtx.App.Writer, hash)
			return err
		},
	}
}
