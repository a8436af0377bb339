// Package main is a development utility for generating an API key pair and a
// ready-to-run SQL INSERT so developers can seed a usable key in a local
// database without running the full server flow. Do not use generated keys in
// production; issue keys through the API so expiry and quota rules apply.
package main

import (
	"fmt"
	"log"
	"time"

	"github.com/datahub-registry/datahub-registry/internal/auth"
)

func main() {
	accessKeyID, err := auth.GenerateAccessKeyID()
	if err != nil {
		log.Fatal(err)
	}
	secret, err := auth.GenerateSecretAccessKey()
	if err != nil {
		log.Fatal(err)
	}

	expires := time.Now().AddDate(0, 0, 30).UTC().Format(time.RFC3339)

	fmt.Println("Generated API key pair:")
	fmt.Println()
	fmt.Printf("  Access key ID:     %s\n", accessKeyID)
	fmt.Printf("  Secret access key: %s\n", secret)
	fmt.Println()
	fmt.Println("Seed it for a local account with:")
	fmt.Println()
	fmt.Println("  INSERT INTO api_keys (access_key_id, account_id, name, secret_access_key, disabled, expires, created_at)")
	fmt.Printf("  VALUES ('%s', '<account-id>', 'dev', '%s', false, '%s', NOW());\n", accessKeyID, secret, expires)
	fmt.Println()
	fmt.Printf("  Authenticate with the header: Authorization: %s %s\n", accessKeyID, secret)
}
