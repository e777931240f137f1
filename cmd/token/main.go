package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/Tyrowin/roomhub/internal/auth"
	"github.com/Tyrowin/roomhub/internal/event"
	"github.com/Tyrowin/roomhub/internal/server"
)

func main() {
	userID := flag.Int64("user", 0, "User id")
	username := flag.String("name", "", "Username")
	role := flag.String("role", string(event.RoleUser), "Role (user, moderator, admin, super_admin)")
	ttl := flag.Duration("ttl", 24*time.Hour, "Token lifetime")
	flag.Parse()

	if *userID <= 0 || *username == "" {
		fmt.Fprintln(os.Stderr, "Usage: token -user <id> -name <username> [-role <role>] [-ttl <duration>]")
		fmt.Fprintln(os.Stderr, "  Signs with AUTH_JWT_SECRET from the environment or .env")
		os.Exit(1)
	}

	cfg := server.NewConfigFromEnv()
	v := auth.NewVerifier(cfg.AuthJWTSecret)
	if v == nil {
		fmt.Fprintln(os.Stderr, "AUTH_JWT_SECRET is not set")
		os.Exit(1)
	}

	token, err := v.Issue(event.Identity{
		UserID:   *userID,
		Username: *username,
		Role:     event.Role(*role),
	}, *ttl)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to sign token: %v\n", err)
		os.Exit(1)
	}

	fmt.Println(token)
}
