// Command devtoken mints a development JWT and can drive one realtime chat exchange with it.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"persona-ritual/backend/internal/ws"
	"persona-ritual/backend/pkg/config"
	"persona-ritual/backend/pkg/jwt"

	"github.com/gorilla/websocket"
)

func main() {
	userPtr := flag.String("user", "", "User id to put in the token")
	expiryPtr := flag.Duration("expiry", 24*time.Hour, "Token lifetime")
	personaPtr := flag.String("persona", "", "Persona id to chat with over the socket")
	messagePtr := flag.String("message", "Hello?", "Message sent with -persona")
	urlPtr := flag.String("url", "ws://localhost:8081/ws/chat", "Realtime endpoint")
	flag.Parse()

	if *userPtr == "" {
		fmt.Println("Dev token usage:")
		fmt.Println("  -user      User id to put in the token (required)")
		fmt.Println("  -expiry    Token lifetime, default 24h")
		fmt.Println("  -persona   Persona id; when set, authenticate, join and send -message over -url")
		os.Exit(2)
	}

	cfg := config.New()
	if cfg.JWT.Secret == "" {
		fmt.Fprintln(os.Stderr, "JWT_SECRET not set, signing with the development secret")
	}

	token, err := jwt.NewService(cfg.JWT.Secret, *expiryPtr).GenerateToken(*userPtr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error generating token: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(token)

	if *personaPtr == "" {
		return
	}
	if err := chat(*urlPtr, token, *personaPtr, *messagePtr); err != nil {
		fmt.Fprintf(os.Stderr, "Chat failed: %v\n", err)
		os.Exit(1)
	}
}

// chat runs auth, join and one message, printing every event it receives
func chat(url, token, personaID, message string) error {
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return fmt.Errorf("error connecting: %w", err)
	}
	defer conn.Close()

	if _, err := expect(conn, ws.EventConnected); err != nil {
		return err
	}

	if err := send(conn, ws.EventAuth, "auth", map[string]string{"token": token}); err != nil {
		return err
	}
	if _, err := expect(conn, ws.AckType(ws.EventAuth)); err != nil {
		return err
	}

	if err := send(conn, ws.EventJoin, "join", map[string]string{"personaId": personaID}); err != nil {
		return err
	}
	joined, err := expect(conn, ws.AckType(ws.EventJoin))
	if err != nil {
		return err
	}

	var ack struct {
		Session struct {
			ID string `json:"id"`
		} `json:"session"`
	}
	if err := json.Unmarshal(joined.Payload, &ack); err != nil {
		return fmt.Errorf("error decoding join ack: %w", err)
	}

	if err := send(conn, ws.EventMessage, "msg", map[string]string{
		"sessionId": ack.Session.ID,
		"content":   message,
	}); err != nil {
		return err
	}
	_, err = expect(conn, ws.EventResponse)
	return err
}

func send(conn *websocket.Conn, eventType, id string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return conn.WriteJSON(ws.Envelope{Type: eventType, ID: id, Payload: raw})
}

// expect reads events until one of eventType arrives. Error payloads abort.
func expect(conn *websocket.Conn, eventType string) (ws.Envelope, error) {
	for {
		if err := conn.SetReadDeadline(time.Now().Add(60 * time.Second)); err != nil {
			return ws.Envelope{}, err
		}

		var env ws.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			return env, fmt.Errorf("error reading %s: %w", eventType, err)
		}
		fmt.Printf("<- %s %s\n", env.Type, string(env.Payload))

		var failure ws.ErrorPayload
		if json.Unmarshal(env.Payload, &failure) == nil && failure.Code != "" {
			return env, fmt.Errorf("%s: %s", failure.Code, failure.Error)
		}
		if env.Type == eventType {
			return env, nil
		}
	}
}
