// Command hawk signs requests and URLs with Hawk credentials and sends
// authenticated requests from the command line.
package main

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/vitalvas/hawk/config"
	"github.com/vitalvas/hawk/hawk"
)

var errNoCredentials = errors.New("credentials required: set --id and --key, HAWK_ID and HAWK_KEY, or a config file")

func main() {
	if err := newRootCommand().Execute(); err != nil {
		color.New(color.FgRed).Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type options struct {
	configPath string
	envFile    string
	baseURL    string
	id         string
	key        string
	algorithm  string
	pathPrefix string
	noColor    bool
}

func newRootCommand() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:           "hawk",
		Short:         "Hawk request signing client",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			if opts.noColor {
				color.NoColor = true
			}
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", os.Getenv("HAWK_CONFIG"), "config file with a client section (env HAWK_CONFIG)")
	flags.StringVar(&opts.envFile, "env-file", ".env", "dotenv file loaded before credentials are resolved")
	flags.StringVar(&opts.baseURL, "url", os.Getenv("HAWK_URL"), "base URL for relative targets (env HAWK_URL)")
	flags.StringVar(&opts.id, "id", "", "key identifier (env HAWK_ID)")
	flags.StringVar(&opts.key, "key", "", "shared key (env HAWK_KEY)")
	flags.StringVar(&opts.algorithm, "algorithm", "", "sha256 or sha1 (env HAWK_ALGORITHM)")
	flags.StringVar(&opts.pathPrefix, "path-prefix", "", "only sign requests under this path")
	flags.BoolVar(&opts.noColor, "no-color", false, "disable colored output")

	root.AddCommand(
		newHeaderCommand(opts),
		newBewitCommand(opts),
		newRequestCommand(opts),
		newNonceCommand(),
	)

	return root
}

// client resolves the credentials from flags, the environment and the config
// file, in that order of precedence.
func (o *options) client() (*hawk.Client, error) {
	if err := config.LoadEnvFile(o.envFile); err != nil {
		return nil, err
	}

	var cc config.ClientConfig

	if o.configPath != "" {
		cfg, err := config.Load(o.configPath)
		if err != nil {
			return nil, err
		}

		cc = cfg.Client
	}

	cc.ID = firstNonEmpty(o.id, os.Getenv("HAWK_ID"), cc.ID)
	cc.Key = firstNonEmpty(o.key, os.Getenv("HAWK_KEY"), cc.Key)
	cc.Algorithm = firstNonEmpty(o.algorithm, os.Getenv("HAWK_ALGORITHM"), cc.Algorithm)
	cc.PathPrefix = firstNonEmpty(o.pathPrefix, cc.PathPrefix)
	cc.BaseURL = firstNonEmpty(o.baseURL, os.Getenv("HAWK_URL"), cc.BaseURL)

	if cc.ID == "" || cc.Key == "" {
		return nil, errNoCredentials
	}

	o.baseURL = cc.BaseURL

	cred, err := cc.Credential()
	if err != nil {
		return nil, err
	}

	return hawk.NewClient(cred, hawk.WithPathPrefix(cc.PathPrefix))
}

// target resolves raw against the base URL when it is not absolute.
func (o *options) target(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parsing target: %w", err)
	}

	if u.IsAbs() {
		return u, nil
	}

	if o.baseURL == "" {
		return nil, fmt.Errorf("relative target %q needs --url", raw)
	}

	base, err := url.Parse(strings.TrimRight(o.baseURL, "/") + "/")
	if err != nil {
		return nil, fmt.Errorf("parsing base url: %w", err)
	}

	return base.ResolveReference(&url.URL{
		Path:     strings.TrimLeft(u.Path, "/"),
		RawQuery: u.RawQuery,
	}), nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}

	return ""
}
