package logx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestWithFieldsAreInherited(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := NewWriter(&buf, "debug").With(String("comp", "session"))
	log.Info("activated", String("alarm_id", "a1"), Err(errors.New("boom")), Err(nil))

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("decode: %v (%s)", err, buf.String())
	}
	if rec["comp"] != "session" || rec["alarm_id"] != "a1" || rec["message"] != "activated" {
		t.Fatalf("unexpected record: %v", rec)
	}
	if !strings.HasPrefix(rec["caller"].(string), "logx_test.go:") {
		t.Fatalf("caller = %v", rec["caller"])
	}
}

func TestZeroLoggerIsSafe(t *testing.T) {
	t.Parallel()
	var l Logger
	if !l.IsZero() {
		t.Fatal("zero logger should report IsZero")
	}
	l.Info("nothing happens")
	if Nop().IsZero() {
		t.Fatal("Nop is a configured logger")
	}
}

func TestFormatChatRecord(t *testing.T) {
	t.Parallel()
	got := formatChatRecord([]byte(`{"level":"warn","message":"sink failed","time":"x","caller":"a.go:1","b":2,"a":"x"}`))
	want := "[WARN] sink failed\n- a=x\n- b=2"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
	if got := formatChatRecord([]byte("plain text\n")); got != "plain text" {
		t.Fatalf("got %q", got)
	}
}

type recordingSender struct {
	mu   sync.Mutex
	msgs []string
}

func (r *recordingSender) SendLog(_ context.Context, chatID int64, _ int, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if chatID == 42 {
		r.msgs = append(r.msgs, text)
	}
	return nil
}

func (r *recordingSender) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.msgs)
}

func TestChatSinkFiltersByLevel(t *testing.T) {
	sender := &recordingSender{}
	svc, log := New(Config{Level: "debug", Chat: ChatConfig{Enabled: true, ChatID: 42, MinLevel: "warn", RatePerSec: 100}}, sender)
	defer svc.Close()

	log.Info("quiet")
	log.Error("loud")

	deadline := time.Now().Add(2 * time.Second)
	for sender.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	time.Sleep(20 * time.Millisecond)
	if n := sender.count(); n != 1 {
		t.Fatalf("sent %d chat records, want 1", n)
	}
	if !strings.Contains(sender.msgs[0], "[ERROR] loud") {
		t.Fatalf("msg = %q", sender.msgs[0])
	}
}
