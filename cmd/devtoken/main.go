// Command devtoken signs an access token for local testing.
//
//	JWT_SECRET=dev go run ./cmd/devtoken -uid u-1 -email ana@example.com
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/warp/leave-engine/api"
)

func main() {
	uid := flag.String("uid", "", "user id (token subject)")
	email := flag.String("email", "", "user email")
	ttl := flag.Duration("ttl", 12*time.Hour, "token lifetime")
	flag.Parse()

	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		fmt.Fprintln(os.Stderr, "JWT_SECRET is required")
		os.Exit(2)
	}
	if *email == "" {
		fmt.Fprintln(os.Stderr, "-email is required")
		os.Exit(2)
	}

	token, err := api.SignToken(secret, *uid, *email, *ttl)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sign token: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(token)
}
