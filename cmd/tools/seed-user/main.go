// Command seed-user seeds or updates an account in the datastore. It is meant
// for bootstrapping demo environments and recovering locked-out accounts.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"vidloop-live/internal/models"
	"vidloop-live/internal/storage"
)

func main() {
	var (
		jsonPath    string
		postgresDSN string
		username    string
		password    string
		avatarURL   string
		balance     string
	)

	flag.StringVar(&jsonPath, "json", "", "Path to the JSON datastore (store.json)")
	flag.StringVar(&postgresDSN, "postgres-dsn", "", "Postgres connection string")
	flag.StringVar(&username, "username", "", "Username for the account")
	flag.StringVar(&password, "password", "", "Password for the account")
	flag.StringVar(&avatarURL, "avatar", "", "Avatar URL for the account")
	flag.StringVar(&balance, "balance", "", "Initial wallet balance for a new account (decimal, e.g. 10.50)")
	flag.Parse()

	if jsonPath == "" && postgresDSN == "" {
		fatalf("either --json or --postgres-dsn must be provided")
	}
	if jsonPath != "" && postgresDSN != "" {
		fatalf("only one datastore option may be provided")
	}
	if strings.TrimSpace(username) == "" {
		fatalf("--username is required")
	}
	if password != "" && len(password) < 8 {
		fatalf("--password must be at least 8 characters")
	}

	var initialBalance models.Money
	if strings.TrimSpace(balance) != "" {
		parsed, err := models.ParseMoney(balance)
		if err != nil {
			fatalf("invalid --balance: %v", err)
		}
		initialBalance = parsed
	}

	repo, err := openRepository(jsonPath, postgresDSN)
	if err != nil {
		fatalf("open datastore: %v", err)
	}
	defer closeRepository(repo)

	user, created, err := seedUser(repo, strings.TrimSpace(username), password, strings.TrimSpace(avatarURL), initialBalance)
	if err != nil {
		fatalf("seed user: %v", err)
	}

	state := "updated"
	if created {
		state = "created"
	}
	fmt.Printf("User %s (%s) %s successfully.\n", user.Username, user.ID, state)
	if password != "" {
		fmt.Println("Remember to rotate this password after the first login.")
	}
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

func openRepository(jsonPath, postgresDSN string) (storage.Repository, error) {
	if jsonPath != "" {
		return storage.NewJSONRepository(jsonPath)
	}
	return storage.NewPostgresRepository(postgresDSN)
}

func closeRepository(repo storage.Repository) {
	type closer interface {
		Close(context.Context) error
	}
	if c, ok := repo.(closer); ok {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = c.Close(ctx)
	}
}

func seedUser(repo storage.Repository, username, password, avatarURL string, balance models.Money) (models.User, bool, error) {
	if existing, ok := repo.FindUserByUsername(username); ok {
		if password == "" {
			return existing, false, nil
		}
		updated, err := repo.SetUserPassword(existing.ID, password)
		if err != nil {
			return models.User{}, false, err
		}
		return updated, false, nil
	}

	user, err := repo.CreateUser(storage.CreateUserParams{
		Username:  username,
		AvatarURL: avatarURL,
		Password:  password,
		Balance:   balance,
	})
	if err != nil {
		return models.User{}, false, err
	}
	return user, true, nil
}
