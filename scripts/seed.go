//go:build ignore

package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/hugh/dashtenant/internal/auth"
	"github.com/hugh/dashtenant/internal/database"
	"github.com/hugh/dashtenant/internal/database/models"
	"github.com/hugh/dashtenant/internal/directory"
	"github.com/hugh/dashtenant/pkg/config"
	"github.com/hugh/dashtenant/pkg/util"
	"github.com/joho/godotenv"
)

// Seeds a master organization with a platform admin, plus two sample tenants.
func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.NewLogger(cfg.Server.Env)

	db, err := database.Connect(&cfg.Database, logger)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}

	if err := database.AutoMigrate(db); err != nil {
		log.Fatalf("failed to run migrations: %v", err)
	}

	gateway := directory.NewStore(db, nil, logger)
	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.Expiry())
	authService := auth.NewService(db, gateway, jwtService, cfg.Invites.Expiry())

	email := os.Getenv("ADMIN_EMAIL")
	password := os.Getenv("ADMIN_PASSWORD")
	if email == "" {
		email = "admin@example.com"
	}
	if password == "" {
		password = "admin123!"
	}

	ctx := context.Background()

	resp, err := authService.Register(ctx, auth.RegisterInput{
		Email:    email,
		Password: password,
		Name:     "Platform Admin",
		OrgName:  "Platform HQ",
	})
	if err != nil {
		log.Fatalf("failed to register admin: %v", err)
	}

	var hq models.Organization
	if err := db.Where("name = ?", "Platform HQ").First(&hq).Error; err != nil {
		log.Fatalf("failed to load HQ org: %v", err)
	}
	if err := db.Model(&hq).Update("is_master", true).Error; err != nil {
		log.Fatalf("failed to mark master org: %v", err)
	}

	tenants := map[string]string{
		"Acme Corp": "owner@acme.test",
		"Globex":    "owner@globex.test",
	}
	for name, ownerEmail := range tenants {
		owner, err := authService.Register(ctx, auth.RegisterInput{
			Email:    ownerEmail,
			Password: password,
			Name:     name + " Owner",
			OrgName:  name,
		})
		if err != nil {
			log.Fatalf("failed to create tenant %s: %v", name, err)
		}
		fmt.Printf("tenant: %s (owner %s)\n", name, owner.User.Email)
	}

	fmt.Printf("admin: %s (%s)\nmaster org: %s\n", email, resp.User.ID, hq.ID)
}

func slugify(name string) string {
	out := make([]rune, 0, len(name))
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			out = append(out, r)
		case r >= 'A' && r <= 'Z':
			out = append(out, r+32)
		case r == ' ':
			out = append(out, '-')
		}
	}
	return string(out)
}
