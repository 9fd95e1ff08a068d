// Command authcli exercises the auth API from the terminal. It behaves like
// a client application: failed logins feed a lockout tracker persisted under
// the user's home directory, and further attempts are refused locally while
// the lock holds.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ilaygozlan/crypto-advisor-api/internal/authclient"
	"github.com/ilaygozlan/crypto-advisor-api/internal/lockout"
)

func main() {
	var (
		baseURL   = flag.String("url", envOr("AUTH_API_URL", "http://localhost:8080"), "Base URL of the auth API")
		statePath = flag.String("state", defaultStatePath(), "Path to the lockout state file")
	)

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options] <command> [args]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Commands:\n")
		fmt.Fprintf(os.Stderr, "  signup EMAIL PASSWORD   Create an account\n")
		fmt.Fprintf(os.Stderr, "  login EMAIL PASSWORD    Log in\n")
		fmt.Fprintf(os.Stderr, "  status                  Show lockout state\n")
		fmt.Fprintf(os.Stderr, "  reset                   Clear lockout state\n")
		fmt.Fprintf(os.Stderr, "\nOptions:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	args := flag.Args()
	if len(args) < 1 {
		flag.Usage()
		os.Exit(1)
	}

	guard := lockout.NewTracker(lockout.NewFileStore(*statePath))

	client, err := authclient.New(*baseURL, guard)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := run(ctx, client, guard, args[0], args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, client *authclient.Client, guard *lockout.Tracker, cmd string, args []string) error {
	switch cmd {
	case "signup":
		if len(args) < 2 {
			return errors.New("signup requires EMAIL and PASSWORD")
		}
		user, err := client.Signup(ctx, args[0], args[1], "", "")
		if err != nil {
			return err
		}
		fmt.Printf("Account created for %s (id %s)\n", user.Email, user.ID)
		return nil

	case "login":
		if len(args) < 2 {
			return errors.New("login requires EMAIL and PASSWORD")
		}
		user, err := client.Login(ctx, args[0], args[1])
		if err != nil {
			if errors.Is(err, authclient.ErrInvalidCredentials) {
				attempts, _ := guard.Attempts()
				locked, _ := guard.IsLocked()
				if locked {
					remaining, _ := guard.LockedFor()
					return fmt.Errorf("invalid credentials, locked out for %s", remaining.Round(time.Second))
				}
				return fmt.Errorf("invalid credentials (%d recent failed attempts)", attempts)
			}
			return err
		}
		fmt.Printf("Logged in as %s\n", user.Email)
		return nil

	case "status":
		locked, err := guard.IsLocked()
		if err != nil {
			return err
		}
		if locked {
			remaining, _ := guard.LockedFor()
			fmt.Printf("Locked out, %s remaining\n", remaining.Round(time.Second))
			return nil
		}
		attempts, err := guard.Attempts()
		if err != nil {
			return err
		}
		fmt.Printf("Not locked, %d recent failed attempts\n", attempts)
		return nil

	case "reset":
		if err := guard.RegisterSuccess(); err != nil {
			return err
		}
		fmt.Println("Lockout state cleared")
		return nil

	default:
		return fmt.Errorf("unknown command: %s", cmd)
	}
}

func defaultStatePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".authcli-lockout.json"
	}
	return filepath.Join(home, ".config", "crypto-advisor", "lockout.json")
}

func envOr(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
