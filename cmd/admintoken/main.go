// admintoken は api の管理者用 Bearer トークンを発行して標準出力に出す。
//
//	go run ./cmd/admintoken -sub ops@example.com -ttl 2h
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"storefront/internal/config"
	"storefront/internal/middleware"
)

func main() {
	sub := flag.String("sub", "admin", "token subject (recorded as actor in audit logs)")
	ttl := flag.Duration("ttl", 0, "token lifetime (default JWT_ADMIN_TTL)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if *ttl <= 0 {
		*ttl = cfg.JWT.AdminTTL
	}

	token, exp, err := middleware.IssueAdminToken(cfg.JWT.Secret, *sub, *ttl, time.Now())
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	fmt.Println(token)
	fmt.Fprintf(os.Stderr, "expires at %s\n", exp.Format(time.RFC3339))
}
