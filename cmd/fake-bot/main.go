// ABOUTME: Minimal fake bot for end-to-end testing; logs in over websocket and answers frames.
// ABOUTME: Usage: fake-bot [-url ws://localhost:8000/] -user u1 -worker 12345 [-secret s]
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

func main() {
	url := flag.String("url", "ws://localhost:8000/", "bot-manager websocket URL")
	user := flag.String("user", "", "external user id")
	worker := flag.String("worker", "", "external worker id")
	secret := flag.String("secret", "", "bot credential")
	pull := flag.Bool("pull", true, "request all code after login")
	flag.Parse()

	if *user == "" || *worker == "" {
		flag.Usage()
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, *url, *user, *worker, *secret, *pull); err != nil {
		log.Fatal(err)
	}
}

func run(ctx context.Context, url, user, worker, secret string, pull bool) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"),
			time.Now().Add(time.Second))
	}()

	login := strings.TrimSpace(fmt.Sprintf("login %s %s %s", user, worker, secret))
	if err := conn.WriteMessage(websocket.TextMessage, []byte(login)); err != nil {
		return fmt.Errorf("failed to send login: %w", err)
	}
	log.Printf("sent %q", login)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				log.Printf("server closed connection")
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}

		line := string(data)
		verb, payload, _ := strings.Cut(line, " ")
		log.Printf("<- %s", truncate(line, 80))

		var reply []string
		switch verb {
		case "command":
			reply = []string{"starting", "log fake bot running " + payload, "running"}
			if pull {
				reply = append(reply, "pullall")
			}
		case "stop":
			reply = []string{"offline"}
		case "start", "restart", "reload":
			reply = []string{"starting", "running"}
		case "update":
			filename, _, _ := strings.Cut(payload, " ")
			reply = []string{"log updated " + filename}
		case "pullend":
			reply = []string{"log code synced"}
		case "ERROR":
			reply = []string{"log no code on record"}
		}

		for _, r := range reply {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(r)); err != nil {
				return fmt.Errorf("write: %w", err)
			}
			log.Printf("-> %s", r)
		}
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
