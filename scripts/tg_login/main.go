package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/gotd/td/session"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/tg"
	"github.com/joho/godotenv"

	tgtransport "signal-trader/internal/transport/telegram"
)

// tg_login creates the MTProto user session the listener runs on. Run it
// once interactively; the bot itself never prompts.
//
// Usage:
//   go run ./scripts/tg_login
//
// Reads TG_API_ID / TG_API_HASH / SESSION_DIR from .env, the phone number
// from TG_PHONE (or stdin) and the two-step password from TG_PASSWORD.

func main() {
	log.Println("=== Telegram login starting ===")
	_ = godotenv.Load()

	apiID := 0
	if _, err := fmt.Sscan(os.Getenv("TG_API_ID"), &apiID); err != nil || apiID == 0 {
		log.Fatal("TG_API_ID is required")
	}
	apiHash := os.Getenv("TG_API_HASH")
	if apiHash == "" {
		log.Fatal("TG_API_HASH is required")
	}
	dir := getenv("SESSION_DIR", "./session")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		log.Fatalf("create session dir error: %v", err)
	}

	stdin := bufio.NewReader(os.Stdin)
	phone := os.Getenv("TG_PHONE")
	if phone == "" {
		phone = prompt(stdin, "Phone (+countrycode): ")
	}

	codePrompt := auth.CodeAuthenticatorFunc(func(ctx context.Context, sent *tg.AuthSentCode) (string, error) {
		return prompt(stdin, "Login code: "), nil
	})
	flow := auth.NewFlow(auth.Constant(phone, os.Getenv("TG_PASSWORD"), codePrompt), auth.SendCodeOptions{})

	path := tgtransport.SessionPath(dir)
	client := telegram.NewClient(apiID, apiHash, telegram.Options{
		SessionStorage: &session.FileStorage{Path: path},
	})

	err := client.Run(context.Background(), func(ctx context.Context) error {
		if err := client.Auth().IfNecessary(ctx, flow); err != nil {
			return fmt.Errorf("auth: %w", err)
		}
		self, err := client.Self(ctx)
		if err != nil {
			return fmt.Errorf("get self: %w", err)
		}
		log.Printf("✅ logged in as %s %s (@%s, id=%d)", self.FirstName, self.LastName, self.Username, self.ID)
		return nil
	})
	if err != nil {
		log.Fatalf("login failed: %v", err)
	}
	log.Printf("Session saved to %s", path)
}

func prompt(r *bufio.Reader, label string) string {
	fmt.Print(label)
	line, err := r.ReadString('\n')
	if err != nil && line == "" {
		log.Fatalf("read input error: %v", err)
	}
	return strings.TrimSpace(line)
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
