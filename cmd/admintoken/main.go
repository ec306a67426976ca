package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"gestloc/internal/admintoken"
)

func main() {
	keyPath := flag.String("key", os.Getenv("ADMIN_JWT_PRIVATE_KEY_PATH"), "path to the RS256 private key (PEM)")
	kid := flag.String("kid", admintoken.DefaultKeyID, "key id written to the token header")
	issuer := flag.String("issuer", admintoken.DefaultIssuer, "token issuer, must match adminJwtIssuer")
	ttl := flag.Duration("ttl", admintoken.DefaultTokenTTL, "token lifetime")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: %s [flags] <admin-email>\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}

	signer, err := admintoken.NewSigner(admintoken.SignerOptions{
		PrivateKeyPath: *keyPath,
		KeyID:          *kid,
		Issuer:         *issuer,
		TTL:            *ttl,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "admintoken: %v\n", err)
		os.Exit(1)
	}
	token, expires, err := signer.Sign(flag.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "admintoken: %v\n", err)
		os.Exit(1)
	}
	fmt.Fprintf(os.Stderr, "expires at %s\n", expires.Format(time.RFC3339))
	fmt.Println(token)
}
