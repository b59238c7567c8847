package mail

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestOutboxAppends(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	defer mr.Close()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	ctx := context.Background()
	box := NewOutbox(rdb, "", 100)
	msg := NewMessage("alice@example.com", "Verify your email", TemplateVerifyEmail, map[string]string{"code": "123456"})
	if err := box.Send(ctx, msg); err != nil {
		t.Fatalf("Send: %v", err)
	}

	entries, err := rdb.XRange(ctx, DefaultOutboxStream, "-", "+").Result()
	if err != nil {
		t.Fatalf("XRange: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected one entry, got %d", len(entries))
	}
	v := entries[0].Values
	if v["id"] != msg.ID || v["to"] != "alice@example.com" || v["template"] != TemplateVerifyEmail {
		t.Fatalf("unexpected entry: %+v", v)
	}
	var data map[string]string
	if err := json.Unmarshal([]byte(v["data"].(string)), &data); err != nil || data["code"] != "123456" {
		t.Fatalf("unexpected data %v: %v", v["data"], err)
	}
}

func TestLogSenderHidesDataAtInfo(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	s := NewLogSender(zap.New(core))

	if err := s.Send(context.Background(), NewMessage("a@b.c", "s", TemplateLoginOTP, map[string]string{"code": "111111"})); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if logs.Len() != 1 {
		t.Fatalf("expected one entry at info, got %d", logs.Len())
	}
	for _, f := range logs.All()[0].Context {
		if f.Key == "data" {
			t.Fatal("template data must not be logged at info level")
		}
	}
}
