package main

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/vitalvas/hawk/hawk"
)

type payloadFlags struct {
	data        string
	dataFile    string
	contentType string
}

func (p *payloadFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&p.data, "data", "d", "", "request payload")
	cmd.Flags().StringVar(&p.dataFile, "data-file", "", "read the request payload from a file, - for stdin")
	cmd.Flags().StringVarP(&p.contentType, "content-type", "t", "", "payload content type")
	cmd.MarkFlagsMutuallyExclusive("data", "data-file")
}

func (p *payloadFlags) read(stdin io.Reader) ([]byte, bool, error) {
	switch {
	case p.dataFile == "-":
		b, err := io.ReadAll(stdin)
		return b, true, err
	case p.dataFile != "":
		b, err := os.ReadFile(p.dataFile)
		return b, true, err
	case p.data != "":
		return []byte(p.data), true, nil
	default:
		return nil, false, nil
	}
}

func newHeaderCommand(opts *options) *cobra.Command {
	var (
		ext     string
		payload payloadFlags
	)

	cmd := &cobra.Command{
		Use:   "header METHOD URL",
		Short: "Print an Authorization header for a request",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.client()
			if err != nil {
				return err
			}

			target, err := opts.target(args[1])
			if err != nil {
				return err
			}

			body, hasBody, err := payload.read(cmd.InOrStdin())
			if err != nil {
				return fmt.Errorf("reading payload: %w", err)
			}

			hash := ""
			if hasBody {
				hash, err = hawk.PayloadHash(client.Credential().Algorithm, payload.contentType, body)
				if err != nil {
					return err
				}
			}

			header, err := client.GenerateAuthorizationHeader(target, strings.ToUpper(args[0]), hash, ext)
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), header)

			return nil
		},
	}

	cmd.Flags().StringVar(&ext, "ext", "", "application data to include in the MAC")
	payload.register(cmd)

	return cmd
}

func newBewitCommand(opts *options) *cobra.Command {
	var (
		ext string
		ttl time.Duration
	)

	cmd := &cobra.Command{
		Use:   "bewit URL",
		Short: "Print a URL carrying a time-limited bewit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.client()
			if err != nil {
				return err
			}

			target, err := opts.target(args[0])
			if err != nil {
				return err
			}

			signed, err := client.SignURL(target, ttl, ext)
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), signed.String())

			return nil
		},
	}

	cmd.Flags().StringVar(&ext, "ext", "", "application data to include in the bewit")
	cmd.Flags().DurationVar(&ttl, "ttl", 5*time.Minute, "how long the URL stays valid")

	return cmd
}

func newRequestCommand(opts *options) *cobra.Command {
	var (
		ext         string
		signPayload bool
		include     bool
		timeout     time.Duration
		headers     []string
		payload     payloadFlags
	)

	cmd := &cobra.Command{
		Use:   "request METHOD URL",
		Short: "Send a Hawk-authenticated request and print the response",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.client()
			if err != nil {
				return err
			}

			target, err := opts.target(args[1])
			if err != nil {
				return err
			}

			body, hasBody, err := payload.read(cmd.InOrStdin())
			if err != nil {
				return fmt.Errorf("reading payload: %w", err)
			}

			var reader io.Reader
			if hasBody {
				reader = bytes.NewReader(body)
			}

			req, err := http.NewRequestWithContext(cmd.Context(), strings.ToUpper(args[0]), target.String(), reader)
			if err != nil {
				return err
			}

			if payload.contentType != "" {
				req.Header.Set("Content-Type", payload.contentType)
			}

			for _, h := range headers {
				name, value, ok := strings.Cut(h, ":")
				if !ok {
					return fmt.Errorf("invalid header %q, want Name: value", h)
				}

				req.Header.Add(strings.TrimSpace(name), strings.TrimSpace(value))
			}

			httpClient := &http.Client{
				Timeout: timeout,
				Transport: hawk.NewTransport(nil, client, hawk.TransportConfig{
					Ext:         ext,
					SignPayload: signPayload && hasBody,
				}),
			}

			resp, err := httpClient.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()

			return printResponse(cmd.OutOrStdout(), resp, include)
		},
	}

	cmd.Flags().StringVar(&ext, "ext", "", "application data to include in the MAC")
	cmd.Flags().BoolVar(&signPayload, "sign-payload", true, "include a payload hash in the MAC when a payload is sent")
	cmd.Flags().BoolVarP(&include, "include", "i", false, "print response status and headers")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "request timeout")
	cmd.Flags().StringArrayVarP(&headers, "header", "H", nil, "extra request header, Name: value")
	payload.register(cmd)

	return cmd
}

func printResponse(w io.Writer, resp *http.Response, include bool) error {
	if include {
		status := color.New(color.FgGreen)
		if resp.StatusCode >= http.StatusBadRequest {
			status = color.New(color.FgRed, color.Bold)
		}

		status.Fprintln(w, resp.Proto, resp.Status)

		names := make([]string, 0, len(resp.Header))
		for name := range resp.Header {
			names = append(names, name)
		}

		sort.Strings(names)

		cyan := color.New(color.FgCyan)
		for _, name := range names {
			for _, value := range resp.Header[name] {
				cyan.Fprintf(w, "%s:", name)
				fmt.Fprintf(w, " %s\n", value)
			}
		}

		fmt.Fprintln(w)
	}

	if _, err := io.Copy(w, resp.Body); err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("server responded %s", resp.Status)
	}

	return nil
}

func newNonceCommand() *cobra.Command {
	var length int

	cmd := &cobra.Command{
		Use:   "nonce",
		Short: "Print a random nonce",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			nonce, err := hawk.GenerateNonce(length)
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), nonce)

			return nil
		},
	}

	cmd.Flags().IntVarP(&length, "length", "n", hawk.DefaultNonceLength, "nonce length")

	return cmd
}
