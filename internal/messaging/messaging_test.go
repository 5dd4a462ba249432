package messaging

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mishraclinic/whatsapp-assistant/pkg/logging"
)

func TestNormalizeE164(t *testing.T) {
	cases := map[string]string{
		"+919812345678":          "+919812345678",
		"919812345678":           "+919812345678",
		" +1 (000) 000-0001 ":    "+10000000001",
		"":                       "",
		"whatsapp:+919812345678": "+919812345678",
	}
	for in, want := range cases {
		if got := NormalizeE164(in); got != want {
			t.Errorf("NormalizeE164(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestWhatsAppAddress(t *testing.T) {
	if got := WhatsAppAddress("+919812345678"); got != "whatsapp:+919812345678" {
		t.Fatalf("WhatsAppAddress = %q", got)
	}
	if got := WhatsAppAddress("whatsapp:+919812345678"); got != "whatsapp:+919812345678" {
		t.Fatalf("WhatsAppAddress must not double-prefix, got %q", got)
	}
	if got := StripWhatsAppPrefix("whatsapp:+919812345678"); got != "+919812345678" {
		t.Fatalf("StripWhatsAppPrefix = %q", got)
	}
}

func TestSplitMessageShortBodyUntouched(t *testing.T) {
	chunks := SplitMessage("hello there", 1500)
	if len(chunks) != 1 || chunks[0] != "hello there" {
		t.Fatalf("unexpected chunks %q", chunks)
	}
	if SplitMessage("   ", 1500) != nil {
		t.Fatal("blank body should yield no chunks")
	}
}

func TestSplitMessagePrefersNewlines(t *testing.T) {
	lines := []string{
		strings.Repeat("a", 40),
		strings.Repeat("b", 40),
		strings.Repeat("c", 40),
	}
	body := strings.Join(lines, "\n")

	chunks := SplitMessage(body, 90)
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d: %q", len(chunks), chunks)
	}
	for i, c := range chunks {
		if len(c) > 90 {
			t.Errorf("chunk %d exceeds limit: %d chars", i, len(c))
		}
	}
	if !strings.HasPrefix(chunks[0], lines[0]) || !strings.HasSuffix(chunks[1], lines[2]) {
		t.Fatalf("order not preserved: %q", chunks)
	}
}

func TestSplitMessageHardSplitsLongLine(t *testing.T) {
	body := strings.Repeat("x", 250)
	chunks := SplitMessage(body, 100)
	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(chunks))
	}
	if rejoined := strings.Join(chunks, ""); rejoined != body {
		t.Fatal("hard split lost characters")
	}
}

type recordingSender struct {
	bodies []string
	times  []time.Time
	failAt int
}

func (r *recordingSender) SendText(ctx context.Context, to, body string) error {
	if r.failAt > 0 && len(r.bodies)+1 == r.failAt {
		return errors.New("send blew up")
	}
	r.bodies = append(r.bodies, body)
	r.times = append(r.times, time.Now())
	return nil
}

func TestMessengerSendsChunksInOrderWithDelay(t *testing.T) {
	sender := &recordingSender{}
	m := NewMessenger(sender, 20, 30*time.Millisecond, logging.New("error"), nil)

	body := strings.Repeat("a", 15) + "\n" + strings.Repeat("b", 15)
	if err := m.Send(context.Background(), "+10000000001", body); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sender.bodies) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(sender.bodies))
	}
	if !strings.HasPrefix(sender.bodies[0], "a") || !strings.HasPrefix(sender.bodies[1], "b") {
		t.Fatalf("chunks out of order: %q", sender.bodies)
	}
	if gap := sender.times[1].Sub(sender.times[0]); gap < 25*time.Millisecond {
		t.Fatalf("expected pacing delay between chunks, got %v", gap)
	}
}

func TestMessengerStopsOnFirstFailure(t *testing.T) {
	sender := &recordingSender{failAt: 2}
	m := NewMessenger(sender, 10, 0, logging.New("error"), nil)

	body := strings.Repeat("a", 8) + "\n" + strings.Repeat("b", 8) + "\n" + strings.Repeat("c", 8)
	err := m.Send(context.Background(), "+10000000001", body)
	if err == nil {
		t.Fatal("expected failure")
	}
	if len(sender.bodies) != 1 {
		t.Fatalf("expected delivery to stop after failure, sent %d", len(sender.bodies))
	}
}

func TestTwilioSenderPostsForm(t *testing.T) {
	var gotForm map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Fatalf("parse form: %v", err)
		}
		gotForm = map[string]string{
			"To":   r.PostFormValue("To"),
			"From": r.PostFormValue("From"),
			"Body": r.PostFormValue("Body"),
		}
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"sid": "SM123", "status": "queued"}`))
	}))
	defer srv.Close()

	s := NewTwilioSender("AC123", "token", "+10000000000", logging.New("error"))
	s.baseURL = srv.URL

	if err := s.SendText(context.Background(), "+10000000001", "hello"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotForm["To"] != "whatsapp:+10000000001" || gotForm["From"] != "whatsapp:+10000000000" {
		t.Fatalf("unexpected addresses %+v", gotForm)
	}
	if gotForm["Body"] != "hello" {
		t.Fatalf("unexpected body %q", gotForm["Body"])
	}
}

func TestTwilioSenderDoesNotRetryClientErrors(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"code": 21211, "message": "invalid to number", "status": 400}`))
	}))
	defer srv.Close()

	s := NewTwilioSender("AC123", "token", "+10000000000", logging.New("error"))
	s.baseURL = srv.URL

	err := s.SendText(context.Background(), "+10000000001", "hello")
	if err == nil || !strings.Contains(err.Error(), "21211") {
		t.Fatalf("expected twilio error with code, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("4xx must not be retried, got %d calls", calls)
	}
}

func TestTwilioSenderRetriesServerErrors(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"sid": "SM123"}`))
	}))
	defer srv.Close()

	s := NewTwilioSender("AC123", "token", "+10000000000", logging.New("error"))
	s.baseURL = srv.URL

	if err := s.SendText(context.Background(), "+10000000001", "hello"); err != nil {
		t.Fatalf("expected eventual success, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
}
