package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Seednode/cardparty/internal/gateway"
	"github.com/Seednode/cardparty/internal/storage"
	"github.com/Seednode/cardparty/internal/storage/sqlite"
)

type seedLocale struct {
	Name        string `mapstructure:"name"`
	Description string `mapstructure:"description"`
}

type seedCard struct {
	ID   string `mapstructure:"id"`
	Text string `mapstructure:"text"`
	Type string `mapstructure:"type"`
}

type seedQuestion struct {
	ID   string `mapstructure:"id"`
	Text string `mapstructure:"text"`
}

type seedCategory struct {
	ID        string                `mapstructure:"id"`
	Locales   map[string]seedLocale `mapstructure:"locales"`
	Cards     []seedCard            `mapstructure:"cards"`
	Questions []seedQuestion        `mapstructure:"questions"`
}

type seedUser struct {
	ID       string `mapstructure:"id"`
	Username string `mapstructure:"username"`
	Role     string `mapstructure:"role"`
}

// seedContent is the layout of a content file.
type seedContent struct {
	Users      []seedUser     `mapstructure:"users"`
	Categories []seedCategory `mapstructure:"categories"`
}

type seedStore interface {
	PutUser(ctx context.Context, user storage.User) error
	PutCategory(ctx context.Context, category storage.Category) error
	PutCard(ctx context.Context, card storage.Card) error
	PutQuestion(ctx context.Context, question storage.Question) error
}

type seedCounts struct {
	users, categories, cards, questions int
}

// loadSeed reads a YAML, JSON or TOML content file, chosen by extension.
func loadSeed(path string) (seedContent, error) {
	v := viper.New()
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		return seedContent{}, fmt.Errorf("read %s: %w", path, err)
	}

	var content seedContent
	if err := v.Unmarshal(&content); err != nil {
		return seedContent{}, fmt.Errorf("decode %s: %w", path, err)
	}

	return content, content.validate()
}

func (c seedContent) validate() error {
	for _, u := range c.Users {
		switch storage.Role(u.Role) {
		case "", storage.RolePlayer, storage.RoleAdmin:
		default:
			return fmt.Errorf("user %q: unknown role %q", u.ID, u.Role)
		}
	}

	for _, cat := range c.Categories {
		if strings.TrimSpace(cat.ID) == "" {
			return errors.New("category without id")
		}
		if len(cat.Locales) == 0 {
			return fmt.Errorf("category %q: no locales", cat.ID)
		}
		for _, card := range cat.Cards {
			switch storage.CardType(card.Type) {
			case "", storage.CardRegular, storage.CardPower:
			default:
				return fmt.Errorf("card %q: unknown type %q", card.ID, card.Type)
			}
		}
	}

	return nil
}

func applySeed(ctx context.Context, store seedStore, content seedContent) (seedCounts, error) {
	var counts seedCounts

	for _, u := range content.Users {
		err := store.PutUser(ctx, storage.User{ID: u.ID, Username: u.Username, Role: storage.Role(u.Role)})
		if err != nil {
			return counts, fmt.Errorf("user %q: %w", u.ID, err)
		}
		counts.users++
	}

	for _, cat := range content.Categories {
		locales := make(map[string]storage.CategoryText, len(cat.Locales))
		for tag, text := range cat.Locales {
			locales[tag] = storage.CategoryText{Name: text.Name, Description: text.Description}
		}
		if err := store.PutCategory(ctx, storage.Category{ID: cat.ID, Locales: locales}); err != nil {
			return counts, fmt.Errorf("category %q: %w", cat.ID, err)
		}
		counts.categories++

		for _, card := range cat.Cards {
			err := store.PutCard(ctx, storage.Card{
				ID:         card.ID,
				CategoryID: cat.ID,
				Text:       card.Text,
				Type:       storage.CardType(card.Type),
			})
			if err != nil {
				return counts, fmt.Errorf("card %q: %w", card.ID, err)
			}
			counts.cards++
		}

		for _, q := range cat.Questions {
			err := store.PutQuestion(ctx, storage.Question{ID: q.ID, CategoryID: cat.ID, Text: q.Text})
			if err != nil {
				return counts, fmt.Errorf("question %q: %w", q.ID, err)
			}
			counts.questions++
		}
	}

	return counts, nil
}

func newSeedCmd(cfg *Config, v *viper.Viper) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load users, categories, cards and questions from a content file.",
		Args:  cobra.ExactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.validateStore(); err != nil {
				return err
			}

			content, err := loadSeed(file)
			if err != nil {
				return err
			}

			store, err := sqlite.Open(cfg.db)
			if err != nil {
				return err
			}
			defer store.Close()

			startTime := time.Now()

			counts, err := applySeed(cmd.Context(), store, content)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Seeded %d users, %d categories, %d cards and %d questions in %s\n",
				counts.users, counts.categories, counts.cards, counts.questions,
				time.Since(startTime).Round(time.Millisecond),
			)

			return nil
		},
	}

	fs := cmd.Flags()
	fs.StringVarP(&file, "file", "f", "content.yaml", "content file to load (env: CARDPARTY_FILE)")
	bindFlags(v, fs)

	return cmd
}

func newTokenCmd(cfg *Config, v *viper.Viper) *cobra.Command {
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "token <user-id>",
		Short: "Issue an access token for an existing user.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.validateStore(); err != nil {
				return err
			}
			if err := cfg.validateSecret(); err != nil {
				return err
			}
			if ttl <= 0 {
				return fmt.Errorf("invalid token lifetime (must be positive): %s", ttl)
			}

			store, err := sqlite.Open(cfg.db)
			if err != nil {
				return err
			}
			defer store.Close()

			user, err := store.GetUser(cmd.Context(), args[0])
			if errors.Is(err, storage.ErrNotFound) {
				return fmt.Errorf("unknown user %q", args[0])
			}
			if err != nil {
				return err
			}

			token, err := gateway.IssueToken(cfg.jwtSecret, user.ID, ttl)
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), token)

			return nil
		},
	}

	fs := cmd.Flags()
	fs.DurationVar(&ttl, "ttl", 24*time.Hour, "lifetime of the issued token (env: CARDPARTY_TTL)")
	bindFlags(v, fs)

	return cmd
}
