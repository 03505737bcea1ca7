package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"golang.org/x/text/language"
)

type Config struct {
	bind        string
	connectRate int
	db          string
	handSize    int
	jwtSecret   string
	locale      string
	maxPlayers  int
	minPlayers  int
	port        int
	prefix      string
	profile     bool
	roundGoal   int
	tlsCert     string
	tlsKey      string
	verbose     bool
	version     bool

	localeTag language.Tag
}

func (c *Config) validate() error {
	if (c.tlsCert == "") != (c.tlsKey == "") {
		return errors.New("both --tls-cert and --tls-key must be provided together")
	}
	if c.port < 1 || c.port > 65535 {
		return fmt.Errorf("invalid port (must be between 1-65535 inclusive): %d", c.port)
	}
	if c.minPlayers < 2 {
		return fmt.Errorf("invalid minimum player count (must be at least 2): %d", c.minPlayers)
	}
	if c.maxPlayers < c.minPlayers {
		return fmt.Errorf("invalid maximum player count (must be at least --min-players): %d", c.maxPlayers)
	}
	if c.roundGoal < 1 {
		return fmt.Errorf("invalid round goal (must be positive): %d", c.roundGoal)
	}
	if c.handSize < 1 {
		return fmt.Errorf("invalid hand size (must be positive): %d", c.handSize)
	}
	if c.connectRate < 0 {
		return fmt.Errorf("invalid connection rate (must not be negative): %d", c.connectRate)
	}
	if err := c.validateStore(); err != nil {
		return err
	}
	if err := c.validateSecret(); err != nil {
		return err
	}

	tag, err := language.Parse(c.locale)
	if err != nil {
		return fmt.Errorf("invalid locale %q: %w", c.locale, err)
	}
	c.localeTag = tag

	return nil
}

func (c *Config) validateStore() error {
	if strings.TrimSpace(c.db) == "" {
		return errors.New("--db must not be empty")
	}
	return nil
}

func (c *Config) validateSecret() error {
	if strings.TrimSpace(c.jwtSecret) == "" {
		return errors.New("--jwt-secret must be provided")
	}
	return nil
}

func (c *Config) scheme() string {
	if c.tlsCert != "" && c.tlsKey != "" {
		return "https"
	}
	return "http"
}

// bindFlags lets CARDPARTY_* environment variables supply any flag not set on
// the command line.
func bindFlags(v *viper.Viper, fs *pflag.FlagSet) {
	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			_ = fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name)))
		}
	})
}

func newCmd(cfg *Config) *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("CARDPARTY")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:           "cardparty",
		Short:         "A turn-based party card game server, played over websockets.",
		Args:          cobra.ExactArgs(0),
		SilenceErrors: true,
		Version:       releaseVersion,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.validate(); err != nil {
				return err
			}
			return ServePage(cmd.Context(), cfg, args)
		},
	}

	pfs := cmd.PersistentFlags()
	pfs.StringVar(&cfg.db, "db", "cardparty.db", "path to the sqlite database (env: CARDPARTY_DB)")
	pfs.StringVar(&cfg.jwtSecret, "jwt-secret", "", "secret used to verify access tokens (env: CARDPARTY_JWT_SECRET)")
	pfs.BoolVarP(&cfg.verbose, "verbose", "v", false, "display additional output (env: CARDPARTY_VERBOSE)")

	fs := cmd.Flags()
	fs.StringVarP(&cfg.bind, "bind", "b", "0.0.0.0", "address to bind to (env: CARDPARTY_BIND)")
	fs.IntVar(&cfg.connectRate, "connect-rate", 5, "websocket connections allowed per minute per client, 0 to disable (env: CARDPARTY_CONNECT_RATE)")
	fs.IntVar(&cfg.handSize, "hand-size", 5, "cards dealt to each player (env: CARDPARTY_HAND_SIZE)")
	fs.StringVar(&cfg.locale, "locale", "ar", "preferred locale for category names (env: CARDPARTY_LOCALE)")
	fs.IntVar(&cfg.maxPlayers, "max-players", 8, "maximum players per room (env: CARDPARTY_MAX_PLAYERS)")
	fs.IntVar(&cfg.minPlayers, "min-players", 3, "minimum players to start a game (env: CARDPARTY_MIN_PLAYERS)")
	fs.IntVarP(&cfg.port, "port", "p", 8080, "port to listen on (env: CARDPARTY_PORT)")
	fs.StringVar(&cfg.prefix, "prefix", "", "path to prepend to all URLs, for use behind reverse proxy (env: CARDPARTY_PREFIX)")
	fs.BoolVar(&cfg.profile, "profile", false, "register net/http/pprof handlers (env: CARDPARTY_PROFILE)")
	fs.IntVar(&cfg.roundGoal, "round-goal", 5, "accepted answers needed to win (env: CARDPARTY_ROUND_GOAL)")
	fs.StringVar(&cfg.tlsCert, "tls-cert", "", "path to tls certificate (env: CARDPARTY_TLS_CERT)")
	fs.StringVar(&cfg.tlsKey, "tls-key", "", "path to tls keyfile (env: CARDPARTY_TLS_KEY)")
	fs.BoolVarP(&cfg.version, "version", "V", false, "display version and exit (env: CARDPARTY_VERSION)")

	bindFlags(v, pfs)
	bindFlags(v, fs)

	cmd.AddCommand(newSeedCmd(cfg, v))
	cmd.AddCommand(newTokenCmd(cfg, v))

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})
	cmd.SetVersionTemplate("cardparty v{{.Version}}\n")

	cmd.SilenceErrors = true
	cmd.SilenceUsage = true

	return cmd
}
