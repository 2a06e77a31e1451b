package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
)

const accountsUsage = "usage: jobtracker accounts activate|deactivate -email <address>"

// runAccounts flips the active flag of one account against the configured
// store. It returns the process exit code.
func runAccounts(ctx context.Context, db DB, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, accountsUsage)
		return 2
	}

	var active bool
	switch args[0] {
	case "activate":
		active = true
	case "deactivate":
		active = false
	default:
		fmt.Fprintf(stderr, "unknown accounts command %q\n%s\n", args[0], accountsUsage)
		return 2
	}

	fs := flag.NewFlagSet("accounts "+args[0], flag.ContinueOnError)
	fs.SetOutput(stderr)
	email := fs.String("email", "", "Account email address")
	if err := fs.Parse(args[1:]); err != nil {
		return 2
	}
	if strings.TrimSpace(*email) == "" {
		fmt.Fprintln(stderr, accountsUsage)
		return 2
	}

	if err := db.SetAccountActive(ctx, strings.TrimSpace(*email), active); err != nil {
		if errors.Is(err, errNotFound) {
			fmt.Fprintf(stderr, "no account with email %s\n", *email)
			return 1
		}
		fmt.Fprintf(stderr, "update account: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "account %s %sd\n", strings.TrimSpace(*email), args[0])
	return 0
}
