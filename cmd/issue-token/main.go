package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/edutrack/edutrack-backend/internal/config"
	"github.com/edutrack/edutrack-backend/internal/logger"
	"github.com/edutrack/edutrack-backend/internal/model"
	"github.com/edutrack/edutrack-backend/internal/service"
)

// issue-token signs an admin JWT for operators and scripts. Piped output is
// the bare token; on a terminal a short summary is printed as well.
func main() {
	var adminID int
	var perms string
	flag.IntVar(&adminID, "admin", 1, "Admin user ID to embed in the token")
	flag.StringVar(&perms, "permissions", "", "Comma-separated permission codes (default: all)")
	flag.Parse()

	cfg := config.Load()
	log := logger.New(os.Stderr, cfg.LogLevel, cfg.LogFormat)

	permissions := model.AllPermissions
	if perms != "" {
		permissions = permissions[:0:0]
		known := make(map[model.Permission]bool, len(model.AllPermissions))
		for _, p := range model.AllPermissions {
			known[p] = true
		}
		for _, code := range strings.Split(perms, ",") {
			p := model.Permission(strings.TrimSpace(code))
			if !known[p] {
				log.Fatal().Str("permission", string(p)).Msg("Unknown permission")
			}
			permissions = append(permissions, p)
		}
	}

	token, err := service.NewAuthService(cfg).GenerateAdminToken(adminID, permissions)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to sign token")
	}

	if !term.IsTerminal(int(os.Stdout.Fd())) {
		fmt.Println(token)
		return
	}

	fmt.Printf("Admin ID:    %d\n", adminID)
	fmt.Printf("Permissions: %v\n", permissions)
	fmt.Printf("Expires in:  %s\n\n", cfg.JWTExpiry)
	fmt.Println(token)
}
