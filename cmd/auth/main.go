// Command auth manages the gateway's API keys.
//
//	auth create --name kirtan-app [--rate-limit 100] [--expires-in 720h]
//	auth revoke ID
//	auth list [--json]
//
// The first key should be named after gateway.adminKeyName so it can manage
// the others over HTTP.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/alecthomas/kong"

	"github.com/Adithya-Monish-Kumar-K/bani-align/internal/auth/apikey"
	"github.com/Adithya-Monish-Kumar-K/bani-align/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/bani-align/pkg/database"
	"github.com/Adithya-Monish-Kumar-K/bani-align/pkg/logger"
)

var CLI struct {
	Config string `name:"config" short:"c" help:"Path to config file" type:"path" default:"configs/development.yaml"`

	Create CreateCmd `cmd:"" help:"Create a new API key"`
	Revoke RevokeCmd `cmd:"" help:"Revoke an API key by id"`
	List   ListCmd   `cmd:"" help:"List active API keys"`
}

type Globals struct {
	keys *apikey.Validator
}

type CreateCmd struct {
	Name      string        `required:"" help:"Key name"`
	RateLimit int           `name:"rate-limit" default:"100" help:"Requests per gateway rate limit window"`
	ExpiresIn time.Duration `name:"expires-in" help:"Expiry, e.g. 720h; zero never expires"`
}

func (c *CreateCmd) Run(ctx context.Context, g *Globals) error {
	var expiresAt *time.Time
	if c.ExpiresIn < 0 {
		return fmt.Errorf("--expires-in must be positive")
	}
	if c.ExpiresIn > 0 {
		t := time.Now().Add(c.ExpiresIn)
		expiresAt = &t
	}
	raw, info, err := g.keys.CreateKey(ctx, c.Name, c.RateLimit, expiresAt)
	if err != nil {
		return err
	}

	fmt.Println("API key created. Store it now, it cannot be shown again.")
	fmt.Println()
	fmt.Printf("  Key:        %s\n", raw)
	fmt.Printf("  ID:         %s\n", info.ID)
	fmt.Printf("  Name:       %s\n", info.Name)
	fmt.Printf("  Rate Limit: %d\n", info.RateLimit)
	if expiresAt != nil {
		fmt.Printf("  Expires:    %s\n", expiresAt.Format(time.RFC3339))
	} else {
		fmt.Println("  Expires:    never")
	}
	return nil
}

type RevokeCmd struct {
	ID string `arg:"" help:"Key id, as printed by create and list"`
}

func (c *RevokeCmd) Run(ctx context.Context, g *Globals) error {
	if err := g.keys.RevokeKey(ctx, c.ID); err != nil {
		return err
	}
	fmt.Println("API key revoked.")
	return nil
}

type ListCmd struct {
	JSON bool `name:"json" help:"Print JSON"`
}

func (c *ListCmd) Run(ctx context.Context, g *Globals) error {
	keys, err := g.keys.ListKeys(ctx)
	if err != nil {
		return err
	}
	if c.JSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(keys)
	}
	if len(keys) == 0 {
		fmt.Println("No active API keys.")
		return nil
	}

	fmt.Printf("%-36s  %-20s  %-10s  %s\n", "ID", "Name", "Rate Limit", "Expires")
	for _, k := range keys {
		expires := "never"
		if k.ExpiresAt != nil {
			expires = k.ExpiresAt.Format(time.RFC3339)
		}
		fmt.Printf("%-36s  %-20s  %-10d  %s\n", k.ID, k.Name, k.RateLimit, expires)
	}
	fmt.Printf("\nTotal: %d active key(s)\n", len(keys))
	return nil
}

func main() {
	kctx := kong.Parse(&CLI,
		kong.Name("auth"),
		kong.Description("Manage gateway API keys"),
		kong.UsageOnError(),
	)

	cfg, err := config.Load(CLI.Config)
	kctx.FatalIfErrorf(err)
	slog.SetDefault(logger.New(os.Stderr, "warn", cfg.Logging.Format))

	ctx := context.Background()
	db, err := database.OpenDriver(ctx, cfg.Gateway.KeysDriver, cfg.Gateway.KeysDSN, cfg.Postgres)
	kctx.FatalIfErrorf(err)
	defer db.Close()

	keys, err := apikey.NewValidator(ctx, db)
	kctx.FatalIfErrorf(err)

	kctx.BindTo(ctx, (*context.Context)(nil))
	err = kctx.Run(&Globals{keys: keys})
	kctx.FatalIfErrorf(err)
}
