// Command stubapi runs the in-memory commerce backend on its own, with
// a small seeded catalog and a demo account, so the storefront CLI has
// something to talk to during development.
package main

import (
	"log"

	"github.com/joho/godotenv"

	"storefront/internal/config"
	"storefront/internal/stubapi"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	srv := stubapi.NewServer(stubapi.JWTConfig{
		Issuer:        cfg.JWTIssuer,
		AccessSecret:  cfg.JWTAccessSecret,
		RefreshSecret: cfg.JWTRefreshSecret,
		AccessTTL:     cfg.AccessTokenTTL,
		RefreshTTL:    cfg.RefreshTokenTTL,
	})

	srv.SeedProduct(stubapi.Product{ID: 1, Name: "Catan", Price: 29990, Stock: 12})
	srv.SeedProduct(stubapi.Product{ID: 2, Name: "Carcassonne", Price: 24990, Stock: 8})
	srv.SeedProduct(stubapi.Product{ID: 3, Name: "Control Xbox Series X", Price: 59990, Stock: 5})
	srv.SeedProduct(stubapi.Product{ID: 4, Name: "PlayStation 5", Price: 549990, Stock: 2})
	uid := srv.SeedUser("Demo Cliente", "demo@levelup.cl", "demo1234", 1200)
	log.Printf("seeded demo user %s (demo@levelup.cl / demo1234)", uid)

	r := srv.Router()
	log.Printf("stub commerce API listening on %s", cfg.StubAddr)
	if err := r.Run(cfg.StubAddr); err != nil {
		log.Fatal(err)
	}
}
