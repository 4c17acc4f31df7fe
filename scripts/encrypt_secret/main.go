package main

import (
	"bufio"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"signal-trader/pkg/crypto"
)

// encrypt_secret seals exchange credentials for .env or accounts.yaml.
//
// Usage:
//   go run ./scripts/encrypt_secret -genkey      print a new MASTER_ENCRYPTION_KEY
//   go run ./scripts/encrypt_secret VALUE...     print ENC[vN]:... for each value
//   echo VALUE | go run ./scripts/encrypt_secret one value per stdin line
//
// Values are sealed with the newest key loaded from MASTER_ENCRYPTION_KEY*.

func main() {
	_ = godotenv.Load()

	if len(os.Args) > 1 && os.Args[1] == "-genkey" {
		key, err := crypto.GenerateKey()
		if err != nil {
			log.Fatalf("generate key error: %v", err)
		}
		fmt.Println(key)
		return
	}

	kr, err := crypto.KeyringFromEnv()
	if err != nil {
		log.Fatalf("load keyring error: %v", err)
	}
	if kr.Empty() {
		log.Fatal("MASTER_ENCRYPTION_KEY is not set (use -genkey to create one)")
	}

	values := os.Args[1:]
	if len(values) == 0 {
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			if v := strings.TrimSpace(sc.Text()); v != "" {
				values = append(values, v)
			}
		}
		if err := sc.Err(); err != nil {
			log.Fatalf("read stdin error: %v", err)
		}
	}

	for _, v := range values {
		if crypto.IsSealed(v) {
			fmt.Println(v)
			continue
		}
		sealed, err := kr.Seal(v)
		if err != nil {
			log.Fatalf("seal error: %v", err)
		}
		fmt.Println(sealed)
	}
}
