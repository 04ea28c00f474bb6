// Command devtoken prints a signed access token for local testing.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/kiwari-pos/orderflow/internal/auth"
	"github.com/kiwari-pos/orderflow/internal/config"
)

func main() {
	role := flag.String("role", "kitchen", "Role: customer, kitchen, cashier or delivery")
	user := flag.String("user", "", "User ID (random when empty)")
	restaurant := flag.String("restaurant", "", "Restaurant ID (defaults to RESTAURANT_ID)")
	ttl := flag.Duration("ttl", auth.DefaultTTL, "Token lifetime")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	rid := cfg.RestaurantID
	if *restaurant != "" {
		if rid, err = uuid.Parse(*restaurant); err != nil {
			fmt.Fprintf(os.Stderr, "invalid restaurant ID: %v\n", err)
			os.Exit(2)
		}
	}
	if *user == "" {
		*user = uuid.NewString()
	}

	token, err := auth.GenerateToken(cfg.JWTSecret, *user, rid, *role, *ttl)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Println(token)
}
