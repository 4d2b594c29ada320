// Command seed-admin creates (or promotes) an admin account. Admins have no
// self-service registration path; run this once against a fresh database.
//
//	DATABASE_URL=postgres://... go run ./tools/seed-admin -email admin@example.com -password changeme
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/rakibhasan/clinicbook/libs/auth"
	"github.com/rakibhasan/clinicbook/libs/config"
	"github.com/rakibhasan/clinicbook/libs/db"
)

func main() {
	_ = godotenv.Load()

	email := flag.String("email", "", "admin email address")
	password := flag.String("password", "", "admin password")
	flag.Parse()

	if *email == "" || *password == "" {
		fmt.Fprintln(os.Stderr, "usage: seed-admin -email <email> -password <password>")
		os.Exit(2)
	}

	databaseURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.Open(ctx, databaseURL)
	if err != nil {
		fmt.Fprintln(os.Stderr, "database unavailable:", err)
		os.Exit(1)
	}
	defer pool.Close()

	hash, err := auth.HashPassword(*password)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	_, err = pool.Exec(ctx, `
		INSERT INTO users (id, email, password_hash, role, created_at)
		VALUES ($1, $2, $3, 'admin', now())
		ON CONFLICT (email) DO UPDATE SET password_hash = EXCLUDED.password_hash, role = 'admin'`,
		uuid.NewString(), *email, hash,
	)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Println("admin account ready:", *email)
}
