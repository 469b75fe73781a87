// Command storefront is a thin CLI over the client core: it drives the
// session manager, the cart store and the loyalty engine against the
// remote commerce service. The session survives between invocations in
// the local session database.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"storefront/internal/api"
	"storefront/internal/cart"
	"storefront/internal/config"
	"storefront/internal/domain/user"
	"storefront/internal/loyalty"
	"storefront/internal/session"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(level).With().Timestamp().Logger()

	if dir := filepath.Dir(cfg.SessionDBPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			log.Fatal().Err(err).Msg("create session db directory")
		}
	}
	store, err := session.OpenStore(cfg.SessionDBPath, log)
	if err != nil {
		log.Fatal().Err(err).Msg("open session store")
	}
	defer store.Close()

	clientID, err := store.ClientID()
	if err != nil {
		log.Fatal().Err(err).Msg("client id")
	}

	client := api.New(api.Config{
		BaseURL:  cfg.APIBaseURL,
		Timeout:  cfg.HTTPTimeout,
		ClientID: clientID,
	}, store, log)
	mgr := session.NewManager(client, store, log)
	crt := cart.NewStore(client, mgr, log)
	mgr.OnIdentityChange(crt.OnIdentity)

	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	cmd, args := os.Args[1], os.Args[2:]
	ctx := context.Background()

	// Everything except login/register works on a restored session.
	switch cmd {
	case "login", "register":
	default:
		if err := mgr.Restore(ctx); err != nil {
			log.Debug().Err(err).Msg("no session restored")
		}
	}

	if err := run(ctx, cmd, args, mgr, crt); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cmd string, args []string, mgr *session.Manager, crt *cart.Store) error {
	switch cmd {
	case "login":
		fs := flag.NewFlagSet("login", flag.ExitOnError)
		email := fs.String("email", "", "account email")
		password := fs.String("password", "", "account password")
		fs.Parse(args)
		u, err := mgr.Login(ctx, *email, *password)
		if err != nil {
			return err
		}
		fmt.Printf("logged in as %s (%s)\n", u.Name, u.Email)
		return nil

	case "register":
		fs := flag.NewFlagSet("register", flag.ExitOnError)
		name := fs.String("name", "", "full name")
		email := fs.String("email", "", "account email")
		password := fs.String("password", "", "account password")
		phone := fs.String("phone", "", "phone (optional)")
		address := fs.String("address", "", "address (optional)")
		fs.Parse(args)
		u, err := mgr.Register(ctx, user.Registration{
			Name:     *name,
			Email:    *email,
			Password: *password,
			Phone:    *phone,
			Address:  *address,
		})
		if err != nil {
			return err
		}
		fmt.Printf("registered and logged in as %s\n", u.Email)
		return nil

	case "logout":
		return mgr.Logout()

	case "me":
		u, ok := mgr.CurrentUser()
		if !ok {
			return &api.Error{Kind: api.ErrRequiresAuth, Message: "no active session"}
		}
		fmt.Printf("%s <%s> role=%s points=%d\n", u.Name, u.Email, u.Role, u.Points)
		return nil

	case "points":
		u, ok := mgr.CurrentUser()
		if !ok {
			return &api.Error{Kind: api.ErrRequiresAuth, Message: "no active session"}
		}
		tier := loyalty.TierFor(u.Points)
		fmt.Printf("points: %d\ntier:   %s\n", u.Points, tier.Name)
		if next, ok := loyalty.NextTier(u.Points); ok {
			fmt.Printf("next:   %s (%d points to go, %.0f%% there)\n",
				next.Name, loyalty.PointsToNext(u.Points), loyalty.ProgressRatio(u.Points)*100)
		} else {
			fmt.Println("next:   top tier reached")
		}
		return nil

	case "cart":
		return runCart(ctx, args, crt)

	default:
		usage()
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func runCart(ctx context.Context, args []string, crt *cart.Store) error {
	if len(args) < 1 {
		return fmt.Errorf("cart needs a subcommand: show|add|set|remove|clear")
	}
	sub, rest := args[0], args[1:]

	fs := flag.NewFlagSet("cart "+sub, flag.ExitOnError)
	product := fs.Int64("product", 0, "product id")
	qty := fs.Int("qty", 1, "quantity")
	fs.Parse(rest)

	switch sub {
	case "show":
		if err := crt.Load(ctx); err != nil {
			return err
		}
	case "add":
		if err := crt.Add(ctx, *product, *qty); err != nil {
			return err
		}
	case "set":
		if err := crt.SetQuantity(ctx, *product, *qty); err != nil {
			return err
		}
	case "remove":
		if err := crt.Remove(ctx, *product); err != nil {
			return err
		}
	case "clear":
		if err := crt.Clear(ctx); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown cart subcommand %q", sub)
	}

	lines := crt.Lines()
	if len(lines) == 0 {
		fmt.Println("cart is empty")
		return nil
	}
	for _, l := range lines {
		fmt.Printf("%6d  %-30s x%-3d  %8.2f  %9.2f\n",
			l.ProductID, l.ProductName, l.Quantity, l.UnitPrice, l.Subtotal)
	}
	fmt.Printf("items: %d  total: %.2f\n", crt.ItemCount(), crt.Total())
	return nil
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: storefront <command> [flags]

commands:
  login     -email -password
  register  -name -email -password [-phone] [-address]
  logout
  me
  points
  cart show|add|set|remove|clear [-product] [-qty]`)
}
