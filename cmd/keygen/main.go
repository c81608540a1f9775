// Package main is an operator utility for generating the secrets the intake
// server expects at startup, so they never have to be invented by hand:
//
//	keygen secret        random 32-byte hex value for INTAKE_JWT_SECRET or INTAKE_SIGNED_URL_SECRET
//	keygen admin-token   value for INTAKE_AUTH_ADMIN_TOKEN
//	keygen pin [cost]    a field PIN and its bcrypt hash, for seeding upload_sessions manually
package main

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/aspr-photos/intake/internal/auth"
)

const defaultPINCost = 12

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "secret":
		err = printSecret()
	case "admin-token":
		err = printAdminToken()
	case "pin":
		err = printPIN(os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		log.Fatal(err)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, "usage: %s <secret|admin-token|pin [cost]>\n", os.Args[0])
}

func printSecret() error {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return fmt.Errorf("read random bytes: %w", err)
	}
	fmt.Println(hex.EncodeToString(b))
	return nil
}

func printAdminToken() error {
	token, err := auth.GenerateAdminToken()
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}

func printPIN(args []string) error {
	cost := defaultPINCost
	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid bcrypt cost %q", args[0])
		}
		cost = n
	}

	pin, err := auth.GeneratePIN()
	if err != nil {
		return err
	}
	hash, err := auth.HashPIN(pin, cost)
	if err != nil {
		return err
	}

	fmt.Println("==========================================================")
	fmt.Printf("PIN:  %s\n", pin)
	fmt.Printf("Hash: %s\n", hash)
	fmt.Println("==========================================================")
	fmt.Printf(`
INSERT INTO upload_sessions (id, pin_hash, team_name, expires_at)
VALUES (gen_random_uuid(), '%s', 'Anonymous', NOW() + INTERVAL '48 hours');
`, hash)
	return nil
}
