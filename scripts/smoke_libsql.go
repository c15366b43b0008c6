//go:build integration
// +build integration

package scripts

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/ZanzyTHEbar/streaming-chatbot/chatbot/db"
	"github.com/ZanzyTHEbar/streaming-chatbot/chatbot/generation/harness/adapters"
	ports "github.com/ZanzyTHEbar/streaming-chatbot/chatbot/generation/harness/ports"
	"github.com/rs/zerolog"
)

func must(err error, msg string) {
	if err != nil {
		log.Fatalf("%s: %v", msg, err)
	}
}

// RunSmokeLibSQL opens an embedded database, applies migrations and round-trips
// one exchange through the durable conversation store.
func RunSmokeLibSQL() {
	fmt.Println("Smoke test: libsql conversation history")
	tmp := "./smoke.db"
	defer os.Remove(tmp)

	ctx := context.Background()
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout})

	dbconn, err := db.Open(ctx, tmp, logger)
	must(err, "open")
	store := adapters.NewLibSQLConversationStore(dbconn)
	defer store.Close()

	var v int
	must(dbconn.QueryRow("SELECT 1").Scan(&v), "basic SELECT")
	if v != 1 {
		log.Fatalf("basic SELECT returned %v", v)
	}
	fmt.Println("OK: basic SQL")

	var tables int
	must(dbconn.QueryRow(
		"SELECT count(*) FROM sqlite_master WHERE type = 'table' AND name IN ('conversations', 'conversation_turns')",
	).Scan(&tables), "schema lookup")
	if tables != 2 {
		log.Fatalf("expected 2 history tables, found %d", tables)
	}
	fmt.Println("OK: migrations applied")

	id := "smoke-session"
	must(store.SaveTurns(ctx, id,
		ports.Turn{Role: ports.RoleHuman, Content: "hello"},
		ports.Turn{Role: ports.RoleAssistant, Content: "Hi there"},
	), "save turns")

	turns, err := store.LoadTurns(ctx, id)
	must(err, "load turns")
	if len(turns) != 2 || turns[0].Content != "hello" || turns[1].Content != "Hi there" {
		log.Fatalf("unexpected transcript: %+v", turns)
	}
	fmt.Println("OK: transcript round trip")

	must(store.Delete(ctx, id), "delete")
	ok, err := store.Exists(ctx, id)
	must(err, "exists")
	if ok {
		log.Fatalf("transcript survived delete")
	}
	fmt.Println("OK: delete")

	fmt.Println("Smoke checks completed.")
	// wait a tick to flush logs in some environments
	time.Sleep(100 * time.Millisecond)
}
