package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/tasknest/tasknest/pkg/auth"
	"github.com/tasknest/tasknest/pkg/storage"
)

func newTokenCommand() *Command {
	cmd := &Command{
		Name:        "token",
		Description: "Issue an API token for an existing user",
		Flags:       flag.NewFlagSet("token", flag.ExitOnError),
		Run:         runToken,
	}
	cmd.Flags.String("email", "", "Email of the user to issue the token for")
	cmd.Flags.String("name", "cli", "Token name")
	cmd.Flags.Duration("ttl", 0, "Token lifetime (0 never expires)")
	return cmd
}

type tokenOptions struct {
	email string
	name  string
	ttl   time.Duration
}

func parseTokenFlags(args []string) (*tokenOptions, error) {
	flags := flag.NewFlagSet("token", flag.ContinueOnError)
	flags.SetOutput(io.Discard)
	opts := &tokenOptions{}
	flags.StringVar(&opts.email, "email", "", "Email of the user to issue the token for")
	flags.StringVar(&opts.name, "name", "cli", "Token name")
	flags.DurationVar(&opts.ttl, "ttl", 0, "Token lifetime (0 never expires)")
	if err := flags.Parse(args); err != nil {
		return nil, err
	}
	if opts.email == "" {
		return nil, errors.New("--email is required")
	}
	if opts.ttl < 0 {
		return nil, errors.New("--ttl must not be negative")
	}
	return opts, nil
}

func runToken(args []string) error {
	opts, err := parseTokenFlags(args)
	if err != nil {
		return err
	}

	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}

	ctx := context.Background()
	db, err := storage.OpenPostgres(ctx, cfg.Database.Postgres())
	if err != nil {
		return err
	}
	defer db.Close()

	return issueToken(ctx, auth.NewStore(db), opts, os.Stdout)
}

func issueToken(ctx context.Context, store *auth.Store, opts *tokenOptions, out io.Writer) error {
	user, err := store.GetUserByEmail(ctx, opts.email)
	if err != nil {
		return fmt.Errorf("failed to find user %s: %w", opts.email, err)
	}

	token, plaintext, err := store.CreateToken(ctx, user.ID, opts.name, opts.ttl)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Token %s issued for %s\n", token.ID, user.Email)
	if token.ExpiresAt != nil {
		fmt.Fprintf(out, "Expires: %s\n", token.ExpiresAt.Format(time.RFC3339))
	}
	fmt.Fprintf(out, "\n%s\n\nStore it now; it will not be shown again.\n", plaintext)
	return nil
}
