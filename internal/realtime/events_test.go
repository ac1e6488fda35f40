package realtime

import (
	"encoding/json"
	"testing"
	"time"
)

func TestDecodeNewMessage_Valid(t *testing.T) {
	raw := json.RawMessage(`{
		"senderId": "alice",
		"receiverId": "bob",
		"content": "hello",
		"timestamp": "2025-06-01T12:00:00Z",
		"localId": "local-1"
	}`)

	p, err := DecodeNewMessage(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if p.SenderID != "alice" || p.ReceiverID != "bob" || p.LocalID != "local-1" {
		t.Fatalf("unexpected payload: %+v", p)
	}

	m := p.Message()
	if m.ConversationID != "alice_bob" {
		t.Fatalf("expected derived pair key, got %q", m.ConversationID)
	}
}

func TestDecodeNewMessage_MissingTimestampFallsBack(t *testing.T) {
	raw := json.RawMessage(`{"senderId":"alice","receiverId":"bob","content":"x"}`)

	before := time.Now()
	p, err := DecodeNewMessage(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if p.Timestamp.Before(before) {
		t.Fatalf("expected arrival-time fallback, got %v", p.Timestamp)
	}
}

func TestDecodeNewMessage_Invalid(t *testing.T) {
	cases := []string{
		`{"receiverId":"bob","content":"x"}`,
		`{"senderId":"alice","content":"x"}`,
		`{"senderId":"alice","receiverId":"bob","content":""}`,
		`not json`,
	}
	for _, c := range cases {
		if _, err := DecodeNewMessage(json.RawMessage(c)); err == nil {
			t.Fatalf("expected error for %s", c)
		}
	}
}

func TestDecodeUserID(t *testing.T) {
	id, err := DecodeUserID(json.RawMessage(`"alice"`))
	if err != nil || id != "alice" {
		t.Fatalf("expected alice, got %q err=%v", id, err)
	}
	if _, err := DecodeUserID(json.RawMessage(`""`)); err == nil {
		t.Fatalf("expected error for empty id")
	}
}

func TestDecodeOnlineUsers(t *testing.T) {
	ids, err := DecodeOnlineUsers(json.RawMessage(`["a","b"]`))
	if err != nil || len(ids) != 2 {
		t.Fatalf("expected two ids, got %v err=%v", ids, err)
	}
}

func TestDecodeTyping(t *testing.T) {
	p, err := DecodeTyping(json.RawMessage(`{"conversationId":"a_b","userId":"a","isTyping":true}`))
	if err != nil || !p.IsTyping {
		t.Fatalf("unexpected result: %+v err=%v", p, err)
	}
	if _, err := DecodeTyping(json.RawMessage(`{"userId":"a"}`)); err == nil {
		t.Fatalf("expected error for missing conversation id")
	}
}

func TestNewEnvelope_RoundTrip(t *testing.T) {
	env, err := NewEnvelope(EventSendMessage, SendMessagePayload{
		SenderID:   "alice",
		ReceiverID: "bob",
		Content:    "hi",
		LocalID:    "local-1",
	})
	if err != nil {
		t.Fatalf("envelope: %v", err)
	}

	p, err := DecodeSendMessage(env.Data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if p.LocalID != "local-1" {
		t.Fatalf("local id lost in transit: %+v", p)
	}
}

func TestReconnector_BackoffGrowsAndCaps(t *testing.T) {
	r := newReconnector(100*time.Millisecond, 500*time.Millisecond, 0)

	first := r.nextDelay()
	second := r.nextDelay()
	if second < first {
		t.Fatalf("expected growing backoff: %v then %v", first, second)
	}
	for i := 0; i < 10; i++ {
		if d := r.nextDelay(); d > 500*time.Millisecond {
			t.Fatalf("delay exceeded cap: %v", d)
		}
	}
}

func TestReconnector_AttemptLimit(t *testing.T) {
	r := newReconnector(time.Millisecond, time.Millisecond, 2)
	if !r.shouldReconnect() {
		t.Fatalf("fresh reconnector must allow attempts")
	}
	r.nextDelay()
	r.nextDelay()
	if r.shouldReconnect() {
		t.Fatalf("expected exhaustion after two attempts")
	}
	r.reset()
	if !r.shouldReconnect() {
		t.Fatalf("reset must restore attempts")
	}
}
