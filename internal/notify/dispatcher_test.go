package notify

import (
	"context"
	"errors"
	"net/smtp"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"aquaguard/internal/model"
	"aquaguard/internal/storage"
)

type fakeChannel struct {
	mu     sync.Mutex
	sent   []string
	fail   map[string]bool
	hang   map[string]bool
	bodies []string
}

func (c *fakeChannel) Send(ctx context.Context, contact, subject, body string) error {
	if c.hang[contact] {
		<-ctx.Done()
		return ctx.Err()
	}
	if c.fail[contact] {
		return errors.New("mailbox unavailable")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, contact)
	c.bodies = append(c.bodies, subject+"\n"+body)
	return nil
}

func setupDispatch(t *testing.T, prefs ...model.RecipientPreference) (*storage.Memory, model.Alert) {
	t.Helper()
	ctx := context.Background()
	store := storage.NewMemory(0)
	for _, p := range prefs {
		if err := store.UpsertRecipient(ctx, p); err != nil {
			t.Fatalf("upsert: %v", err)
		}
	}
	a := testAlert()
	a.CreatedAt = time.Now()
	if err := store.CreateAlert(ctx, a); err != nil {
		t.Fatalf("create: %v", err)
	}
	return store, a
}

func TestDispatchIsolatesFailures(t *testing.T) {
	store, alert := setupDispatch(t, basePref("r1"), basePref("r2"), basePref("r3"))
	ch := &fakeChannel{
		fail: map[string]bool{"r2@example.com": true},
		hang: map[string]bool{"r3@example.com": true},
	}
	d := NewDispatcher(store, store, ch, nil, Options{Workers: 2, RecipientTimeout: 50 * time.Millisecond, Location: time.UTC})
	d.now = func() time.Time { return at(12) }

	sent, err := d.Dispatch(context.Background(), alert)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if len(sent) != 1 || sent[0] != "r1" {
		t.Fatalf("expected only r1 to succeed, got %v", sent)
	}
	stored, _ := store.GetAlert(context.Background(), alert.ID)
	if len(stored.NotifiedRecipientIDs) != 1 || !stored.WasNotified("r1") {
		t.Fatalf("unexpected notified set %v", stored.NotifiedRecipientIDs)
	}
}

func TestDispatchSkipsAlreadyNotified(t *testing.T) {
	store, alert := setupDispatch(t, basePref("r1"), basePref("r2"))
	ch := &fakeChannel{fail: map[string]bool{"r2@example.com": true}}
	d := NewDispatcher(store, store, ch, nil, Options{Location: time.UTC})
	d.now = func() time.Time { return at(12) }
	if _, err := d.Dispatch(context.Background(), alert); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	// r2 recovers; the next trigger only reaches r2
	ch.fail = nil
	stored, _ := store.GetAlert(context.Background(), alert.ID)
	sent, err := d.Dispatch(context.Background(), stored)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if len(sent) != 1 || sent[0] != "r2" {
		t.Fatalf("expected retry to reach only r2, got %v", sent)
	}
	stored, _ = store.GetAlert(context.Background(), alert.ID)
	ids := append([]string(nil), stored.NotifiedRecipientIDs...)
	sort.Strings(ids)
	if strings.Join(ids, ",") != "r1,r2" {
		t.Fatalf("unexpected notified set %v", ids)
	}
	if len(ch.sent) != 2 {
		t.Fatalf("expected two sends in total, got %v", ch.sent)
	}
}

func TestDispatchRendersSeverityColour(t *testing.T) {
	store, alert := setupDispatch(t, basePref("r1"))
	ch := &fakeChannel{}
	d := NewDispatcher(store, store, ch, nil, Options{Location: time.UTC})
	d.now = func() time.Time { return at(12) }
	if _, err := d.Dispatch(context.Background(), alert); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if len(ch.bodies) != 1 || !strings.Contains(ch.bodies[0], severityColor(model.SeverityWarning)) {
		t.Fatalf("body missing severity colour: %v", ch.bodies)
	}
	if !strings.HasPrefix(ch.bodies[0], "[WARNING]") {
		t.Fatalf("unexpected subject in %q", ch.bodies[0])
	}
}

func TestEscalateIgnoresNotifiedSet(t *testing.T) {
	store, alert := setupDispatch(t, basePref("r1"))
	alert.NotifiedRecipientIDs = []string{"r1"}
	ch := &fakeChannel{}
	d := NewDispatcher(store, store, ch, nil, Options{Location: time.UTC})
	d.now = func() time.Time { return at(12) }
	if err := d.Escalate(context.Background(), alert); err != nil {
		t.Fatalf("escalate: %v", err)
	}
	if len(ch.bodies) != 1 || !strings.HasPrefix(ch.bodies[0], "[ESCALATION]") {
		t.Fatalf("unexpected escalation %v", ch.bodies)
	}
	ch.fail = map[string]bool{"r1@example.com": true}
	if err := d.Escalate(context.Background(), alert); err == nil {
		t.Fatalf("expected error when nobody is reached")
	}
}

func TestRouterByScheme(t *testing.T) {
	mail := &fakeChannel{}
	push := &fakeChannel{}
	r := NewRouter("mailto")
	r.Register("mailto", mail)
	r.Register("ws", push)
	ctx := context.Background()
	if err := r.Send(ctx, "ops@example.com", "s", "b"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if err := r.Send(ctx, "WS:operator-1", "s", "b"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if err := r.Send(ctx, "sms:+15550100", "s", "b"); !errors.Is(err, ErrNoChannel) {
		t.Fatalf("expected ErrNoChannel, got %v", err)
	}
	if len(mail.sent) != 1 || mail.sent[0] != "ops@example.com" || len(push.sent) != 1 || push.sent[0] != "operator-1" {
		t.Fatalf("unexpected routing mail=%v push=%v", mail.sent, push.sent)
	}
}

func TestEmailChannelBuildsMessage(t *testing.T) {
	var got []byte
	ch := &EmailChannel{addr: "smtp.example.com:587", host: "smtp.example.com", from: "alerts@example.com"}
	ch.sendMail = func(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
		if addr != "smtp.example.com:587" || from != "alerts@example.com" || len(to) != 1 || to[0] != "ops@example.com" {
			t.Errorf("unexpected envelope %s %s %v", addr, from, to)
		}
		got = msg
		return nil
	}
	if err := ch.Send(context.Background(), "ops@example.com", "[CRITICAL] pH", "<p>hi</p>"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if !strings.Contains(string(got), "Subject: [CRITICAL] pH\r\n") || !strings.HasSuffix(string(got), "<p>hi</p>") {
		t.Fatalf("unexpected message %q", got)
	}
	if err := ch.Send(context.Background(), "not-an-address", "s", "b"); err == nil {
		t.Fatalf("expected invalid address error")
	}
}

func TestEmailHeadersStripLineBreaks(t *testing.T) {
	msg := string(buildMessage("alerts@example.com", "ops@example.com", "[WARNING] Tank 1\r\nBcc: attacker@example.com", "<p>x</p>"))
	if strings.Contains(msg, "\r\nBcc:") {
		t.Fatalf("subject injected a header: %q", msg)
	}
	if !strings.Contains(msg, "Subject: [WARNING] Tank 1 Bcc: attacker@example.com\r\n") {
		t.Fatalf("unexpected subject line in %q", msg)
	}
}

type slowChannel struct {
	mu    sync.Mutex
	sends map[string]int
	delay time.Duration
}

func (c *slowChannel) Send(ctx context.Context, contact, _, _ string) error {
	select {
	case <-time.After(c.delay):
	case <-ctx.Done():
		return ctx.Err()
	}
	c.mu.Lock()
	c.sends[contact]++
	c.mu.Unlock()
	return nil
}

func TestOverlappingDispatchSendsOnce(t *testing.T) {
	store, alert := setupDispatch(t, basePref("r1"))
	ch := &slowChannel{sends: map[string]int{}, delay: 100 * time.Millisecond}
	d := NewDispatcher(store, store, ch, nil, Options{Location: time.UTC})
	d.now = func() time.Time { return at(12) }

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = d.Dispatch(context.Background(), alert)
		}()
	}
	wg.Wait()
	if n := ch.sends["r1@example.com"]; n != 1 {
		t.Fatalf("expected one send to r1, got %d", n)
	}
	stored, _ := store.GetAlert(context.Background(), alert.ID)
	if !stored.WasNotified("r1") {
		t.Fatalf("r1 not recorded as notified")
	}
}
