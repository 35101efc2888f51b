// Command tokenmint issues a bearer token for a wallet actor, signed with the
// active key of the configured keyset.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/wizardbeardstudio/open-wallet-go/internal/platform/auth"
	"github.com/wizardbeardstudio/open-wallet-go/internal/platform/config"
)

func main() {
	if err := run(os.Args[1:], os.Stdout, time.Now().UTC()); err != nil {
		fmt.Fprintf(os.Stderr, "tokenmint: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, out io.Writer, now time.Time) error {
	fs := flag.NewFlagSet("tokenmint", flag.ContinueOnError)
	subject := fs.String("sub", "", "actor id")
	actorType := fs.String("type", auth.ActorService, "actor type: PLAYER, OPERATOR or SERVICE")
	ttl := fs.Duration("ttl", time.Hour, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *ttl <= 0 {
		return errors.New("ttl must be positive")
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	ks, err := keyset(cfg)
	if err != nil {
		return err
	}
	tok, exp, err := auth.NewJWTSignerWithKeyset(ks).SignActor(auth.Actor{ID: *subject, Type: *actorType}, now, *ttl)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, tok)
	fmt.Fprintf(os.Stderr, "kid=%s expires=%s\n", ks.ActiveKID, exp.Format(time.RFC3339))
	return nil
}

func keyset(cfg config.Config) (auth.HMACKeyset, error) {
	if !cfg.AuthEnabled() {
		return auth.HMACKeyset{}, errors.New("set WALLET_JWT_SECRET, WALLET_JWT_KEYS or WALLET_JWT_KEYSET_FILE")
	}
	if cfg.JWTKeysetFile != "" {
		return auth.LoadHMACKeysetFile(cfg.JWTKeysetFile)
	}
	return auth.ParseHMACKeyset(cfg.JWTSecret, cfg.JWTKeys, cfg.JWTActiveKID)
}
