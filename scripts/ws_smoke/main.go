// Command ws_smoke exercises a running gigchat server end to end: it logs in
// over REST, dials the websocket with the session token, announces itself and
// sends one message, then waits for the relayed echo.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/gigchat/gigchat/internal/realtime"
)

func main() {
	if err := run(); err != nil {
		log.Printf("ws_smoke: %v", err)
		os.Exit(1)
	}
}

func run() error {
	server := flag.String("server", "http://localhost:8080", "server base URL")
	user := flag.String("user", "smoke", "username to log in or register as")
	pass := flag.String("pass", "smoke-pass", "password")
	to := flag.String("to", "", "receiver user id (defaults to self-echo)")
	text := flag.String("text", "hello from smoke test", "message text to send")
	timeout := flag.Duration("timeout", 10*time.Second, "total timeout for the run")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	token, userID, err := authenticate(ctx, *server, *user, *pass)
	if err != nil {
		return err
	}
	receiver := *to
	if receiver == "" {
		receiver = userID
	}

	wsAddr := "ws" + strings.TrimPrefix(*server, "http") + "/ws?token=" + token
	conn, _, err := websocket.Dial(ctx, wsAddr, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	send := func(event string, payload any) error {
		env, err := realtime.NewEnvelope(event, payload)
		if err != nil {
			return err
		}
		if err := wsjson.Write(ctx, conn, env); err != nil {
			return fmt.Errorf("send %s: %w", event, err)
		}
		return nil
	}

	if err := send(realtime.EventAddUser, realtime.AddUserPayload{UserID: userID}); err != nil {
		return err
	}
	if err := send(realtime.EventSendMessage, realtime.SendMessagePayload{
		SenderID:   userID,
		ReceiverID: receiver,
		Content:    *text,
	}); err != nil {
		return err
	}

	for {
		var env realtime.Envelope
		if err := wsjson.Read(ctx, conn, &env); err != nil {
			return fmt.Errorf("read: %w", err)
		}
		fmt.Printf("Received event=%s\n", env.Event)

		switch env.Event {
		case realtime.EventOnlineUsers:
			ids, err := realtime.DecodeOnlineUsers(env.Data)
			if err != nil {
				return fmt.Errorf("decode roster: %w", err)
			}
			fmt.Printf("Online: %v\n", ids)
		case realtime.EventNewMessage:
			p, err := realtime.DecodeNewMessage(env.Data)
			if err != nil {
				return fmt.Errorf("decode message: %w", err)
			}
			fmt.Printf("Message: from=%s to=%s text=%q at=%s\n", p.SenderID, p.ReceiverID, p.Content, p.Timestamp.Format(time.RFC3339))
			return nil
		}
	}
}

// authenticate logs in, registering the account first when it does not exist
// yet. Returns the session token and user id.
func authenticate(ctx context.Context, server, user, pass string) (string, string, error) {
	token, id, err := post(ctx, server+"/api/login", map[string]string{
		"username": user,
		"password": pass,
	})
	if err == nil {
		return token, id, nil
	}

	token, id, err = post(ctx, server+"/api/register", map[string]string{
		"username": user,
		"password": pass,
	})
	if err != nil {
		return "", "", fmt.Errorf("register: %w", err)
	}
	return token, id, nil
}

func post(ctx context.Context, url string, body map[string]string) (string, string, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return "", "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return "", "", fmt.Errorf("%s: status %d", url, resp.StatusCode)
	}

	var out struct {
		Token string `json:"token"`
		User  struct {
			ID string `json:"id"`
		} `json:"user"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", "", err
	}
	return out.Token, out.User.ID, nil
}
