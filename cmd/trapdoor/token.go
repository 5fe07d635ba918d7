package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/trapdoor-sh/trapdoor/internal/security"
)

// runTokenCommand handles `trapdoor token <show|rotate|revoke>`.
func runTokenCommand(args []string) int {
	fs := flag.NewFlagSet("trapdoor token", flag.ContinueOnError)
	configPath := fs.String("config", "", "config file path (default ~/.trapdoor/config.json)")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Usage: trapdoor token <show|rotate|revoke>")
		return 2
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	store := security.NewFileTokenStore(cfg.TokenPath())

	switch fs.Arg(0) {
	case "show":
		cred, ok, err := store.Get()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		if !ok {
			fmt.Println("No token. One is generated on first start.")
			return 1
		}
		fmt.Printf("Token:       %s\n", cred.Value)
		fmt.Printf("Fingerprint: %s\n", security.Fingerprint(cred.Value))
		fmt.Printf("Created:     %s\n", cred.CreatedAt.Format("2006-01-02 15:04:05"))
		fmt.Printf("Stored at:   %s\n", store.Path())
		return 0

	case "rotate":
		cred, err := store.Generate()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		fmt.Printf("New token: %s\n", cred.Value)
		fmt.Println("The previous token no longer works.")
		return 0

	case "revoke":
		if err := store.Revoke(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		fmt.Println("Token revoked. A new one is generated on next start.")
		return 0

	default:
		fmt.Fprintf(os.Stderr, "Unknown token command %q (want show, rotate or revoke)\n", fs.Arg(0))
		return 2
	}
}
