// veilctl is a thin inspection and send tool. It works directly against the
// profile database; the daemon picks up queued sends on its next tick.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/veilmsg/veil/internal/bus"
	"github.com/veilmsg/veil/internal/config"
	"github.com/veilmsg/veil/internal/model"
	"github.com/veilmsg/veil/internal/session"
	"github.com/veilmsg/veil/internal/store"
	"github.com/veilmsg/veil/internal/timeline"
)

func main() {
	_ = godotenv.Load()

	profileFlag := flag.String("profile", "", "profile name (overrides config default)")
	jsonFlag := flag.Bool("json", false, "output in JSON format")
	flag.Parse()

	profile := session.Resolve(*profileFlag)
	if err := session.ValidateName(profile); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	db, err := store.Open(session.DBPath(profile))
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: cannot open profile %q: %v\n", profile, err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()
	if _, err := db.Migrate(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	deviceID := profile
	if cfg, err := config.Load(session.ConfigPath()); err == nil && cfg.DeviceID != "" {
		deviceID = cfg.DeviceID
	}
	timelines := timeline.New(db, bus.New(), deviceID, nil)

	switch args[0] {
	case "chats":
		cmdChats(db, *jsonFlag)
	case "history":
		requireArgs(args, 2, "veilctl history <chat>")
		cmdHistory(db, timelines, args[1], *jsonFlag)
	case "send":
		requireArgs(args, 3, "veilctl send <chat> <text>")
		cmdSend(db, args[1], args[2])
	case "send-image":
		requireArgs(args, 3, "veilctl send-image <chat> <file> [caption]")
		caption := ""
		if len(args) > 3 {
			caption = args[3]
		}
		cmdSendImage(db, args[1], args[2], caption)
	case "search":
		requireArgs(args, 3, "veilctl search <chat> <query>")
		cmdSearch(timelines, args[1], args[2], *jsonFlag)
	case "favorite":
		requireArgs(args, 3, "veilctl favorite <chat> <on|off>")
		cmdFavorite(db, args[1], args[2])
	case "read":
		requireArgs(args, 2, "veilctl read <chat>")
		cmdRead(db, args[1])
	case "delete":
		requireArgs(args, 2, "veilctl delete <chat>")
		cmdDelete(db, args[1])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: veilctl [--profile <name>] [--json] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  chats                          List chats")
	fmt.Fprintln(os.Stderr, "  history <chat>                 Show a chat's timeline")
	fmt.Fprintln(os.Stderr, "  send <chat> <text>             Queue a hidden message")
	fmt.Fprintln(os.Stderr, "  send-image <chat> <file> [cap] Queue an image")
	fmt.Fprintln(os.Stderr, "  search <chat> <query>          Search a chat's messages")
	fmt.Fprintln(os.Stderr, "  favorite <chat> <on|off>       Pin or unpin a chat")
	fmt.Fprintln(os.Stderr, "  read <chat>                    Clear a chat's unread count")
	fmt.Fprintln(os.Stderr, "  delete <chat>                  Remove a chat and its history")
}

func requireArgs(args []string, n int, usage string) {
	if len(args) < n {
		fmt.Fprintln(os.Stderr, "usage:", usage)
		os.Exit(1)
	}
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}

func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func cmdChats(db *store.DB, jsonOut bool) {
	chats, err := db.ListChats(0, 0)
	if err != nil {
		fatal(err)
	}
	if jsonOut {
		outputJSON(chats)
		return
	}
	for _, c := range chats {
		marker := " "
		if c.IsFavorite {
			marker = "*"
		}
		fmt.Printf("%s %-20s %-30s unread:%d  %s\n", marker, c.ID, c.CoverMessage, c.UnreadCount, c.Time)
	}
}

func cmdHistory(db *store.DB, timelines *timeline.Store, chatID string, jsonOut bool) {
	timelines.SetActiveChat(chatID)
	defer timelines.ClearActiveChat()
	msgs, err := timelines.Load(chatID)
	if err != nil {
		fatal(err)
	}
	printMessages(msgs, jsonOut)
	// Viewing a chat counts as reading it.
	if err := db.ResetUnread(chatID); err != nil {
		fatal(err)
	}
}

func cmdSearch(timelines *timeline.Store, chatID, query string, jsonOut bool) {
	msgs, err := timelines.Search(chatID, query)
	if err != nil {
		fatal(err)
	}
	printMessages(msgs, jsonOut)
}

func printMessages(msgs []model.Message, jsonOut bool) {
	if jsonOut {
		outputJSON(msgs)
		return
	}
	for _, m := range msgs {
		who := "them"
		if m.IsSentByCurrentUser {
			who = "me"
		}
		text := m.RealText
		if text == "" {
			text = m.CoverText
		}
		if len(m.ImageData) > 0 {
			text = "[photo] " + text
		}
		fmt.Printf("%s  %-4s  %s\n", m.Timestamp.Format("2006-01-02 15:04"), who, text)
	}
}

func cmdSend(db *store.DB, chatID, text string) {
	clientMsgID := uuid.New().String()
	if err := db.QueueOutbox(clientMsgID, chatID, text); err != nil {
		fatal(err)
	}
	fmt.Printf("queued %s\n", clientMsgID)
}

func cmdSendImage(db *store.DB, chatID, path, caption string) {
	data, err := os.ReadFile(path)
	if err != nil {
		fatal(err)
	}
	clientMsgID := uuid.New().String()
	if err := db.QueueOutboxImage(clientMsgID, chatID, caption, data, filepath.Base(path)); err != nil {
		fatal(err)
	}
	fmt.Printf("queued %s\n", clientMsgID)
}

func cmdFavorite(db *store.DB, chatID, state string) {
	if err := db.SetFavorite(chatID, state == "on"); err != nil {
		fatal(err)
	}
}

func cmdRead(db *store.DB, chatID string) {
	if err := db.ResetUnread(chatID); err != nil {
		fatal(err)
	}
}

func cmdDelete(db *store.DB, chatID string) {
	if err := db.DeleteChat(chatID); err != nil {
		fatal(err)
	}
}
