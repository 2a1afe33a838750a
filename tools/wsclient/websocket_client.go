package main

import (
	"bufio"
	"flag"
	"fmt"
	"log"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// perCharacter approximates how long a device voice takes to speak text
const perCharacter = 40 * time.Millisecond

type utterance struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

type serverMessage struct {
	Type      string    `json:"type"`
	State     string    `json:"state"`
	Message   string    `json:"message"`
	Utterance utterance `json:"utterance"`
	Turn      struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"turn"`
	Data string `json:"data"`
}

// A terminal stand-in for a voice device: typed lines become text turns,
// speak requests are printed and acknowledged after a simulated delay.
func main() {
	host := flag.String("host", "localhost:8080", "server host")
	flag.Parse()

	wsURL := url.URL{Scheme: "ws", Host: *host, Path: "/ws"}
	fmt.Printf("Connecting to: %s\n", wsURL.String())

	conn, resp, err := websocket.DefaultDialer.Dial(wsURL.String(), nil)
	if err != nil {
		if resp != nil {
			log.Fatalf("WebSocket connection failed with status %d: %v", resp.StatusCode, err)
		}
		log.Fatalf("WebSocket connection failed: %v", err)
	}
	defer conn.Close()

	fmt.Println("✓ WebSocket connection successful! Type a message, /stop to interrupt, /quit to exit.")

	var writeMu sync.Mutex
	write := func(msg map[string]any) {
		writeMu.Lock()
		defer writeMu.Unlock()
		if err := conn.WriteJSON(msg); err != nil {
			log.Printf("Failed to send %v: %v", msg["type"], err)
		}
	}

	write(map[string]any{"type": "ping", "data": "hello"})

	go func() {
		for {
			var msg serverMessage
			if err := conn.ReadJSON(&msg); err != nil {
				log.Fatalf("Connection closed: %v", err)
			}

			switch msg.Type {
			case "pong":
				fmt.Printf("✓ Received pong: %s\n", msg.Data)
			case "state":
				fmt.Printf("[%s]\n", msg.State)
			case "turn":
				if msg.Turn.Role == "user" {
					fmt.Printf("you: %s\n", msg.Turn.Content)
				}
			case "error":
				if msg.Message != "" {
					fmt.Printf("! %s\n", msg.Message)
				}
			case "speak":
				fmt.Printf("assistant: %s\n", msg.Utterance.Text)
				go func(u utterance) {
					time.Sleep(time.Duration(len(u.Text)) * perCharacter)
					write(map[string]any{"type": "utterance_event", "utterance_id": u.ID, "event": "end"})
				}(msg.Utterance)
			case "speak_cancel":
				fmt.Println("(speech cancelled)")
			}
		}
	}()

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "/quit":
			return
		case "/stop":
			write(map[string]any{"type": "interrupt"})
		default:
			write(map[string]any{"type": "text_turn", "text": line})
		}
	}
}
