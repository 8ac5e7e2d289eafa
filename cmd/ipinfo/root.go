package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/TomasB/ipgeo/internal/config"
	"github.com/TomasB/ipgeo/pkg/ipinfo"
	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var errNoIPs = errors.New("no ips given")

// newRootCmd builds the command tree. Flags are bound to v so the same
// settings can come from IPINFO_* environment variables or a .env file.
func newRootCmd(v *viper.Viper) *cobra.Command {
	root := &cobra.Command{
		Use:   "ipinfo [ip...]",
		Short: "Look up IP geolocation details",
		Long: `Look up geolocation details of one or more IP addresses with the ipinfo API.
Without arguments, IPs are read from stdin, one per line.`,
		Args:         cobra.ArbitraryArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ips := args
			if len(ips) == 0 {
				var err error
				if ips, err = readIPs(cmd.InOrStdin()); err != nil {
					return err
				}
			}

			client, err := newClient(v, cmd)
			if err != nil {
				return err
			}

			if len(ips) == 1 {
				res, err := client.Lookup(cmd.Context(), ips[0])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), res)
			}

			results, err := client.LookupBatch(cmd.Context(), ips)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), results)
		},
	}

	flags := root.PersistentFlags()
	flags.StringP("token", "t", "", "ipinfo API token (env IPINFO_TOKEN)")
	flags.String("token-file", "", "file holding the API token, overrides --token (env IPINFO_TOKEN_FILE)")
	flags.String("base-url", ipinfo.DefaultBaseURL, "ipinfo API base URL (env IPINFO_BASE_URL)")
	flags.Duration("timeout", ipinfo.DefaultTimeout, "per-request timeout (env IPINFO_TIMEOUT)")
	flags.Bool("debug", false, "log requests to stderr")

	_ = v.BindPFlag("ipinfo_token", flags.Lookup("token"))
	_ = v.BindPFlag("ipinfo_token_file", flags.Lookup("token-file"))
	_ = v.BindPFlag("ipinfo_base_url", flags.Lookup("base-url"))
	_ = v.BindPFlag("ipinfo_timeout", flags.Lookup("timeout"))

	root.AddCommand(newASNCmd(v), newMapCmd(v), newFieldCmd(v), newVersionCmd())
	return root
}

func newASNCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:     "asn AS15169",
		Short:   "Show details of an autonomous system",
		Args:    cobra.ExactArgs(1),
		Example: "  ipinfo asn AS15169\n  ipinfo asn 15169",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient(v, cmd)
			if err != nil {
				return err
			}
			details, err := client.ASN(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), details)
		},
	}
}

func newMapCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "map [ip...]",
		Short: "Plot IPs on a map and print the report URL",
		RunE: func(cmd *cobra.Command, args []string) error {
			ips := args
			if len(ips) == 0 {
				var err error
				if ips, err = readIPs(cmd.InOrStdin()); err != nil {
					return err
				}
			}

			client, err := newClient(v, cmd)
			if err != nil {
				return err
			}
			url, err := client.MapURL(cmd.Context(), ips)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), url)
			return nil
		},
	}
}

func newFieldCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:     "field ip field",
		Short:   "Print a single field of an IP",
		Args:    cobra.ExactArgs(2),
		Example: "  ipinfo field 8.8.8.8 city",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient(v, cmd)
			if err != nil {
				return err
			}
			value, err := client.Field(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), value)
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:                   "version",
		Short:                 "Print ipinfo version",
		Args:                  cobra.NoArgs,
		DisableFlagsInUseLine: true,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "ipinfo version: %s\n", ipinfo.Version)
		},
	}
}

// newClient loads the settings bound to v and creates a client logging to
// the command's stderr. A configured token file wins over the token flag.
func newClient(v *viper.Viper, cmd *cobra.Command) (*ipinfo.Client, error) {
	cfg, err := config.Load(v)
	if err != nil {
		return nil, err
	}

	level := slog.LevelWarn
	if debug, _ := cmd.Flags().GetBool("debug"); debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
	opts := []ipinfo.Option{ipinfo.WithLogger(logger)}

	// A single invocation reads the token file once; no need to keep watching it
	if cfg.TokenFile != "" {
		tw, err := config.NewTokenWatcher(cfg.TokenFile)
		if err != nil {
			return nil, err
		}
		token := tw.Token()
		tw.Close()
		opts = append(opts, ipinfo.WithTokenSource(ipinfo.StaticToken(token)))
	}

	return ipinfo.New(cfg.Client(), opts...)
}

func readIPs(r io.Reader) ([]string, error) {
	var ips []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		if ip := strings.TrimSpace(sc.Text()); ip != "" {
			ips = append(ips, ip)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read ips: %w", err)
	}
	if len(ips) == 0 {
		return nil, errNoIPs
	}
	return ips, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
