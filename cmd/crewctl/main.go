// crewctl is a line-oriented terminal client for a running codecrew
// server. It starts a generation session over the WebSocket endpoint,
// streams the event log, and walks the user through the prompt
// checkpoint.
package main

import (
	"bufio"
	"encoding/base64"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"
	"syscall"

	"github.com/gorilla/websocket"
	"golang.org/x/term"

	"codecrew/pkg/proto"
)

type envelope struct {
	Type      string       `json:"type"`
	Event     *proto.Event `json:"event,omitempty"`
	SessionID string       `json:"session_id,omitempty"`
	Error     string       `json:"error,omitempty"`
}

func main() {
	var (
		addr  = flag.String("addr", "localhost:8080", "server address")
		user  = flag.String("user", "", "basic auth username (prompts for password)")
		model = flag.String("model", "", "model override for this session")
	)
	flag.Parse()

	prompt := strings.Join(flag.Args(), " ")
	if prompt == "" {
		fmt.Fprintln(os.Stderr, "usage: crewctl [flags] <prompt>")
		flag.PrintDefaults()
		os.Exit(1)
	}

	header := http.Header{}
	if *user != "" {
		password, err := promptForPassword(*user)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		credentials := base64.StdEncoding.EncodeToString([]byte(*user + ":" + password))
		header.Set("Authorization", "Basic "+credentials)
	}

	url := fmt.Sprintf("ws://%s/ws", *addr)
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to connect to %s: %v\n", *addr, err)
		os.Exit(1)
	}
	defer func() { _ = conn.Close() }()

	if err := conn.WriteJSON(proto.Command{
		Kind:   proto.CommandStartGeneration,
		Prompt: prompt,
		Model:  *model,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to send command: %v\n", err)
		os.Exit(1)
	}

	if err := run(conn); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run drives the event loop until the session reaches a terminal status.
func run(conn *websocket.Conn) error {
	stdin := bufio.NewScanner(os.Stdin)
	var sessionID string

	for {
		var env envelope
		if err := conn.ReadJSON(&env); err != nil {
			return fmt.Errorf("connection lost: %w", err)
		}

		switch env.Type {
		case "ack":
			if sessionID == "" {
				sessionID = env.SessionID
				fmt.Printf("session %s started\n", sessionID)
			}
		case "error":
			fmt.Printf("server error: %s\n", env.Error)
		case "event":
			done, err := handleEvent(conn, stdin, sessionID, env.Event)
			if err != nil {
				return err
			}
			if done {
				return nil
			}
		}
	}
}

// handleEvent renders one event and reports whether the session is over.
func handleEvent(conn *websocket.Conn, stdin *bufio.Scanner, sessionID string, ev *proto.Event) (bool, error) {
	if ev == nil {
		return false, nil
	}

	switch ev.Kind {
	case proto.EventLog:
		fmt.Printf("[%s] %s\n", ev.PayloadString(proto.KeyAgent), ev.PayloadString(proto.KeyMessage))

	case proto.EventRefinedPrompt:
		fmt.Println()
		fmt.Println("--- refined prompt ---")
		fmt.Println(ev.PayloadString(proto.KeyRefined))
		fmt.Println("----------------------")
		if err := resolveCheckpoint(conn, stdin, sessionID); err != nil {
			return false, err
		}

	case proto.EventCodeResult:
		fmt.Println()
		fmt.Println("--- generated code ---")
		fmt.Println(ev.PayloadString(proto.KeyCode))
		fmt.Println("----------------------")

	case proto.EventStatus:
		status := ev.PayloadString(proto.KeyStatus)
		switch proto.Status(status) {
		case proto.StatusCompleted:
			fmt.Println("session completed")
			return true, nil
		case proto.StatusFailed:
			fmt.Printf("session failed: %s\n", ev.PayloadString(proto.KeyError))
			return true, nil
		case proto.StatusStopped:
			fmt.Println("session stopped")
			return true, nil
		}

	case proto.EventError:
		fmt.Printf("error: %s\n", ev.PayloadString(proto.KeyError))
	}

	return false, nil
}

// resolveCheckpoint prompts for the checkpoint decision and sends the
// matching command.
func resolveCheckpoint(conn *websocket.Conn, stdin *bufio.Scanner, sessionID string) error {
	for {
		fmt.Print("use [r]efined, [o]riginal, refine [a]gain, or [s]top? ")
		if !stdin.Scan() {
			return fmt.Errorf("stdin closed")
		}
		answer := strings.ToLower(strings.TrimSpace(stdin.Text()))

		var cmd proto.Command
		switch answer {
		case "r", "refined":
			cmd = proto.Command{Kind: proto.CommandContinueGeneration, SessionID: sessionID, UseRefined: true}
		case "o", "original":
			cmd = proto.Command{Kind: proto.CommandContinueGeneration, SessionID: sessionID}
		case "a", "again":
			cmd = proto.Command{Kind: proto.CommandRefineAgain, SessionID: sessionID}
		case "s", "stop":
			cmd = proto.Command{Kind: proto.CommandStopGeneration, SessionID: sessionID}
		default:
			fmt.Println("please answer r, o, a, or s")
			continue
		}

		if err := conn.WriteJSON(cmd); err != nil {
			return fmt.Errorf("failed to send command: %w", err)
		}
		return nil
	}
}

// promptForPassword reads the password without echo.
func promptForPassword(user string) (string, error) {
	fmt.Printf("Password for %s: ", user)
	password, err := term.ReadPassword(syscall.Stdin)
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return string(password), nil
}
