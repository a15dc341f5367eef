package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"token-relay/internal/app"
)

func newSealCmd() *cobra.Command {
	var open bool

	cmd := &cobra.Command{
		Use:   "seal [VALUE]",
		Short: "Encrypt a value with the configured key, or decrypt it with --open",
		Long: `Encrypt VALUE (or one line from stdin) into the base64 envelope format used
by the credential store. With --open, decrypt such an envelope instead.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			value, err := argOrStdin(args, cmd.InOrStdin())
			if err != nil {
				return err
			}

			return withApp(cmd, func(_ context.Context, a *app.App) error {
				var out string
				if open {
					out, err = a.Sealer.OpenField(value)
				} else {
					out, err = a.Sealer.SealField(value)
				}
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), out)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&open, "open", false, "decrypt instead of encrypt")
	return cmd
}

func argOrStdin(args []string, stdin io.Reader) (string, error) {
	if len(args) == 1 {
		return args[0], nil
	}
	line, err := bufio.NewReader(stdin).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("failed to read stdin: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}
