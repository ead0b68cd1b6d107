// Package main is the entry point for the Whisper load test binary.
// It provides subcommands for different load testing scenarios:
//
//   - presence: Presence, typing and voice fan-out test
//
// Usage:
//
//	loadtest <command> [options]
package main

import (
	"fmt"
	"net/url"
	"os"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "presence":
		runPresence(os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: loadtest <command> [options]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  presence    Fan-out test: users share a server, type in a channel and join voice")
	fmt.Println()
	fmt.Println("Run 'loadtest <command> -h' for command-specific options.")
}

// userURL appends a user_id query parameter to a WebSocket URL.
func userURL(base, userID string) string {
	u, err := url.Parse(base)
	if err != nil {
		return base
	}
	q := u.Query()
	q.Set("user_id", userID)
	u.RawQuery = q.Encode()
	return u.String()
}
