package main

import (
	"fmt"
	"os"

	"github.com/google/uuid"

	"github.com/tjfontaine/polyglot-keyconf/internal/adapters/auth/apikey"
)

func main() {
	var apiKey string
	switch len(os.Args) {
	case 1:
		apiKey = "kc-" + uuid.New().String()
	case 2:
		apiKey = os.Args[1]
	default:
		fmt.Println("Usage: go run cmd/keygen/main.go [admin-key]")
		fmt.Println("Generates a SHA-256 hash of the admin key (a random one when omitted) for use in config.yaml")
		os.Exit(1)
	}

	keyHash := apikey.HashAPIKey(apiKey)

	fmt.Printf("Admin Key: %s\n", apiKey)
	fmt.Printf("SHA-256 Hash: %s\n", keyHash)
	fmt.Println("\nAdd this to your config.yaml:")
	fmt.Printf("server:\n")
	fmt.Printf("  admin_keys:\n")
	fmt.Printf("    - name: \"admin\"\n")
	fmt.Printf("      key_hash: \"%s\"\n", keyHash)
}
