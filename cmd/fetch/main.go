// Command fetch sends one request and prints the response body,
// following redirects on the way.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	"courier/application/http/actor/client"
	"courier/application/http/semantic"
	"courier/transport/tcp"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

const defaultURL = "http://httpbin.org/redirect-to?url=%2Fget"

var ErrMalformedHeader = errors.New("header must look like 'Name: value'")

type fetchFlags struct {
	method       string
	data         string
	headers      []string
	maxRedirects int
	timeout      time.Duration
	config       string
	noCookies    bool
	include      bool
	verbose      bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := newCommand().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newCommand() *cobra.Command {
	var f fetchFlags

	cmd := &cobra.Command{
		Use:          "fetch [url]",
		Short:        "Fetch a URL over HTTP/1.1",
		Long:         "Fetch sends a request, follows redirects while keeping cookies, and writes the decoded body to stdout.",
		Args:         cobra.MaximumNArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			target := defaultURL
			if len(args) > 0 {
				target = args[0]
			}

			opts, err := f.options(cmd)
			if err != nil {
				return err
			}

			return f.run(cmd.Context(), cmd.OutOrStdout(), cmd.ErrOrStderr(), opts, target)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&f.method, "method", "X", "", "request method (default GET, or POST with --data)")
	flags.StringVarP(&f.data, "data", "d", "", "request body, or @file to stream a file")
	flags.StringArrayVarP(&f.headers, "header", "H", nil, "extra header as 'Name: value', repeatable")
	flags.IntVar(&f.maxRedirects, "max-redirects", 10, "redirect limit, the limit-th redirect fails")
	flags.DurationVar(&f.timeout, "timeout", 30*time.Second, "bound on the whole exchange")
	flags.StringVar(&f.config, "config", "", "YAML file with client options")
	flags.BoolVar(&f.noCookies, "no-cookies", false, "do not keep cookies across redirects")
	flags.BoolVarP(&f.include, "include", "i", false, "print status line and headers")
	flags.BoolVarP(&f.verbose, "verbose", "v", false, "log connection and redirect details")

	return cmd
}

// options loads the config file and lays the flags set on the command line over it.
func (f *fetchFlags) options(cmd *cobra.Command) (client.Options, error) {
	opts := client.DefaultOptions()
	if f.config != "" {
		loaded, err := client.LoadOptions(f.config)
		if err != nil {
			return client.Options{}, err
		}
		opts = loaded
	}

	flags := cmd.Flags()
	if flags.Changed("max-redirects") {
		opts.Redirect.Max = f.maxRedirects
	}
	if flags.Changed("timeout") {
		opts.Timeout.Request = f.timeout
	}
	if f.noCookies {
		opts.Cookies.Enabled = false
	}

	return opts, nil
}

func (f *fetchFlags) request(target string) (*semantic.Request, io.Closer, error) {
	var body *semantic.Body
	var closer io.Closer

	switch {
	case strings.HasPrefix(f.data, "@"):
		file, err := os.Open(strings.TrimPrefix(f.data, "@"))
		if err != nil {
			return nil, nil, errors.Wrap(err, "opening body")
		}
		body, closer = semantic.NewStreamBody(file), file
	case f.data != "":
		body = semantic.NewStringBody(f.data)
	}

	method := semantic.Method(strings.ToUpper(f.method))
	switch {
	case method != "":
	case body != nil:
		method = semantic.MethodPost
	default:
		method = semantic.MethodGet
	}

	req, err := semantic.NewRequest(method, target, body)
	if err != nil {
		if closer != nil {
			_ = closer.Close()
		}
		return nil, nil, err
	}

	for _, h := range f.headers {
		name, value, ok := strings.Cut(h, ":")
		if !ok || strings.TrimSpace(name) == "" {
			if closer != nil {
				_ = closer.Close()
			}
			return nil, nil, errors.Wrapf(ErrMalformedHeader, "%q", h)
		}
		req.Headers.Add(strings.TrimSpace(name), strings.TrimSpace(value))
	}

	return req, closer, nil
}

func (f *fetchFlags) run(ctx context.Context, stdout, stderr io.Writer, opts client.Options, target string) error {
	level := slog.LevelWarn
	if f.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))

	req, closer, err := f.request(target)
	if err != nil {
		return err
	}
	if closer != nil {
		defer closer.Close()
	}

	dialer := &tcp.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}

	c := client.New(dialer, logger, clock.New(), opts)
	defer c.Close()

	res, err := c.Send(ctx, req)
	if err != nil {
		var e *client.Error
		if errors.As(err, &e) && e.Response != nil {
			logger.Error("request failed", slog.Any("error", err), slog.Uint64("status", uint64(e.Response.Status.Code)))
		} else {
			logger.Error("request failed", slog.Any("error", err))
		}
		return err
	}
	defer res.Body.Close()

	logger.Info("received response",
		slog.String("url", res.URL.Redacted()),
		slog.Int("redirects", res.Redirects),
		slog.String("status", res.Status.String()),
	)

	if f.include {
		fmt.Fprintf(stdout, "%s %d %s\r\n", res.Version, res.Status.Code, res.Status.ReasonPhrase)
		for _, field := range res.Headers.ToRawFields() {
			fmt.Fprintf(stdout, "%s: %s\r\n", field.Name, field.Value)
		}
		fmt.Fprint(stdout, "\r\n")
	}

	if _, err := io.Copy(stdout, res.Body); err != nil {
		logger.Error("reading body failed", slog.Any("error", err))
		return err
	}

	return nil
}
