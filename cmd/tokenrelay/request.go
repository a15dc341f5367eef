package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"token-relay/internal/apiclient"
	"token-relay/internal/app"
	"token-relay/internal/common/errors"
)

type requestOptions struct {
	id      string
	headers []string
	data    string
}

func (o *requestOptions) addFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&o.id, "id", "", "identifier whose token authorizes the call (required)")
	cmd.Flags().StringArrayVarP(&o.headers, "header", "H", nil, `extra header "Name: value" (repeatable)`)
	_ = cmd.MarkFlagRequired("id")
}

func (o *requestOptions) headerMap() (map[string]string, error) {
	headers := make(map[string]string, len(o.headers))
	for _, h := range o.headers {
		name, value, ok := strings.Cut(h, ":")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, errors.ValidationError(fmt.Sprintf("invalid header %q, expected \"Name: value\"", h))
		}
		headers[name] = strings.TrimSpace(value)
	}
	return headers, nil
}

// body returns --data verbatim, the contents of a file for @path, or stdin for @-
func (o *requestOptions) body(stdin io.Reader) ([]byte, error) {
	switch {
	case o.data == "":
		return nil, nil
	case o.data == "@-":
		return io.ReadAll(stdin)
	case strings.HasPrefix(o.data, "@"):
		return os.ReadFile(strings.TrimPrefix(o.data, "@"))
	default:
		return []byte(o.data), nil
	}
}

func newGetCmd() *cobra.Command {
	opts := &requestOptions{}

	cmd := &cobra.Command{
		Use:   "get URL",
		Short: "Issue an authenticated GET",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			headers, err := opts.headerMap()
			if err != nil {
				return err
			}
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				resp, err := a.Client.Get(ctx, args[0], opts.id, headers)
				if err != nil {
					return err
				}
				return printResponse(cmd.OutOrStdout(), resp)
			})
		},
	}
	opts.addFlags(cmd)
	return cmd
}

func newPostCmd() *cobra.Command {
	opts := &requestOptions{}

	cmd := &cobra.Command{
		Use:   "post URL",
		Short: "Issue an authenticated POST with a JSON body",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			headers, err := opts.headerMap()
			if err != nil {
				return err
			}
			payload, err := opts.body(cmd.InOrStdin())
			if err != nil {
				return fmt.Errorf("failed to read request body: %w", err)
			}
			if len(payload) > 0 && !json.Valid(payload) {
				return errors.ValidationError("request body is not valid JSON")
			}

			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				var body interface{}
				if payload != nil {
					body = json.RawMessage(payload)
				}
				resp, err := a.Client.Post(ctx, args[0], body, opts.id, headers)
				if err != nil {
					return err
				}
				return printResponse(cmd.OutOrStdout(), resp)
			})
		},
	}
	opts.addFlags(cmd)
	cmd.Flags().StringVarP(&opts.data, "data", "d", "", "JSON body, @file to read a file or @- for stdin")
	return cmd
}

func printResponse(w io.Writer, resp *apiclient.Response) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(struct {
		Status   int         `json:"status"`
		Attempts int         `json:"attempts"`
		Body     interface{} `json:"body"`
	}{resp.StatusCode, resp.Attempts, resp.Body})
}
