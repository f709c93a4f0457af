package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bebias/venera-bot/internal/kvstore"
	"github.com/bebias/venera-bot/internal/messenger"
	"github.com/bebias/venera-bot/internal/models"
	"github.com/bebias/venera-bot/internal/store"
	"github.com/openai/openai-go"
)

// fakeGenerator returns a canned reply and records invocations.
type fakeGenerator struct {
	reply string
	err   error
	calls int
	seen  []openai.ChatCompletionMessageParamUnion
}

func (f *fakeGenerator) GenerateWithMessages(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion) (string, error) {
	f.calls++
	f.seen = messages
	return f.reply, f.err
}

func newTestProcessor(reply string) (*Processor, *store.InMemoryStore, *messenger.MockSender, *fakeGenerator, *kvstore.InMemoryStore) {
	st := store.NewInMemoryStore()
	sender := messenger.NewMockSender()
	ga := &fakeGenerator{reply: reply}
	kv := kvstore.NewInMemoryStore()
	p := NewProcessor(st, ga, sender, kv)
	return p, st, sender, ga, kv
}

func TestHandleInboundAppendsHistory(t *testing.T) {
	p, st, sender, _, _ := newTestProcessor("ok")
	sender.SetProfile(models.UserProfile{SenderID: "u1", Name: "Nino"})

	ev := models.MessageEvent{
		Sender:    models.Principal{ID: "u1"},
		Timestamp: 1000,
		Message:   &models.Message{MID: "m1", Text: "do you have mugs?"},
	}
	if err := p.HandleInbound(context.Background(), ev); err != nil {
		t.Fatalf("HandleInbound failed: %v", err)
	}

	history, err := st.GetHistory("u1")
	if err != nil {
		t.Fatalf("GetHistory failed: %v", err)
	}
	if len(history) != 1 || history[0].Content != "do you have mugs?" || history[0].Role != models.RoleUser {
		t.Errorf("Unexpected history: %+v", history)
	}

	// First contact fetched and stored the profile.
	profile, found, err := st.GetProfile("u1")
	if err != nil || !found {
		t.Fatalf("Expected stored profile, found=%v err=%v", found, err)
	}
	if profile.Name != "Nino" {
		t.Errorf("Expected profile name Nino, got %q", profile.Name)
	}
}

func TestHandleInboundRejectsTriggerOnly(t *testing.T) {
	p, st, _, _, _ := newTestProcessor("ok")

	ev := models.MessageEvent{
		Sender:      models.Principal{ID: "u1"},
		TriggerOnly: true,
		Message:     &models.Message{Text: ""},
	}
	if err := p.HandleInbound(context.Background(), ev); err == nil {
		t.Error("Expected error for trigger-only event")
	}
	if history, _ := st.GetHistory("u1"); len(history) != 0 {
		t.Errorf("Trigger-only event must not be persisted, got %d messages", len(history))
	}
}

func TestProcessSettledHistoryGeneratesAndDelivers(t *testing.T) {
	p, st, sender, ga, _ := newTestProcessor("We have mugs!\n\nThey are 25 GEL each.")

	st.AppendMessage(models.ConversationMessage{SenderID: "u1", Role: models.RoleUser, Content: "hi", Time: 1000})
	st.AppendMessage(models.ConversationMessage{SenderID: "u1", Role: models.RoleUser, Content: "mugs?", Time: 1500})

	if err := p.ProcessSettledHistory(context.Background(), "u1"); err != nil {
		t.Fatalf("ProcessSettledHistory failed: %v", err)
	}

	if ga.calls != 1 {
		t.Errorf("Expected exactly 1 generation call, got %d", ga.calls)
	}
	// system prompt + 2 user messages
	if len(ga.seen) != 3 {
		t.Errorf("Expected 3 messages sent to model, got %d", len(ga.seen))
	}

	sent := sender.Sent()
	if len(sent) != 2 {
		t.Fatalf("Expected reply split into 2 chunks, got %d", len(sent))
	}
	if sent[0].Text != "We have mugs!" || sent[1].Text != "They are 25 GEL each." {
		t.Errorf("Unexpected chunks: %+v", sent)
	}

	// The full reply is appended to history once.
	history, _ := st.GetHistory("u1")
	if len(history) != 3 {
		t.Fatalf("Expected 3 history entries, got %d", len(history))
	}
	if history[2].Role != models.RoleAssistant {
		t.Errorf("Expected assistant entry, got %+v", history[2])
	}
}

func TestProcessSettledHistorySkipsWhenPaused(t *testing.T) {
	p, st, sender, ga, kv := newTestProcessor("should not be sent")

	st.AppendMessage(models.ConversationMessage{SenderID: "u1", Role: models.RoleUser, Content: "hi", Time: 1000})
	kv.SetJSON(context.Background(), PauseKey, true, 0)

	if err := p.ProcessSettledHistory(context.Background(), "u1"); err != nil {
		t.Fatalf("ProcessSettledHistory failed: %v", err)
	}
	if ga.calls != 0 {
		t.Errorf("Expected no generation while paused, got %d calls", ga.calls)
	}
	if len(sender.Sent()) != 0 {
		t.Errorf("Expected no deliveries while paused, got %d", len(sender.Sent()))
	}
}

func TestProcessSettledHistoryEmptyHistoryIsNoop(t *testing.T) {
	p, _, sender, ga, _ := newTestProcessor("reply")

	if err := p.ProcessSettledHistory(context.Background(), "ghost"); err != nil {
		t.Fatalf("ProcessSettledHistory failed: %v", err)
	}
	if ga.calls != 0 || len(sender.Sent()) != 0 {
		t.Error("Expected no-op for empty history")
	}
}

func TestProcessSettledHistoryDeliveryFailure(t *testing.T) {
	p, st, sender, _, _ := newTestProcessor("reply")
	sender.SendErr = errors.New("send API down")

	st.AppendMessage(models.ConversationMessage{SenderID: "u1", Role: models.RoleUser, Content: "hi", Time: 1000})

	if err := p.ProcessSettledHistory(context.Background(), "u1"); err == nil {
		t.Error("Expected error when delivery fails")
	}
	// The failed reply is not recorded as history.
	history, _ := st.GetHistory("u1")
	if len(history) != 1 {
		t.Errorf("Expected history unchanged after failed delivery, got %d entries", len(history))
	}
}

func TestHTTPTriggerPostsSyntheticEvent(t *testing.T) {
	var got models.WebhookPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("Failed to decode trigger payload: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	trigger := NewHTTPTrigger(srv.URL)
	if err := trigger.TriggerSettledTurn(context.Background(), "u1"); err != nil {
		t.Fatalf("TriggerSettledTurn failed: %v", err)
	}

	events := got.Events()
	if len(events) != 1 {
		t.Fatalf("Expected 1 event, got %d", len(events))
	}
	ev := events[0]
	if !ev.TriggerOnly {
		t.Error("Expected trigger-only marker")
	}
	if ev.Sender.ID != "u1" {
		t.Errorf("Expected sender u1, got %q", ev.Sender.ID)
	}
	if ev.Text() != "" {
		t.Errorf("Expected empty text, got %q", ev.Text())
	}
}

func TestHTTPTriggerReportsFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	trigger := NewHTTPTrigger(srv.URL)
	if err := trigger.TriggerSettledTurn(context.Background(), "u1"); err == nil {
		t.Error("Expected error on non-2xx trigger response")
	}
}

func TestSplitReply(t *testing.T) {
	cases := []struct {
		in   string
		want int
	}{
		{"single paragraph", 1},
		{"first\n\nsecond", 2},
		{"first\n\n\n\nsecond\n\n", 2},
		{"", 1},
	}
	for _, c := range cases {
		if got := splitReply(c.in); len(got) != c.want {
			t.Errorf("splitReply(%q) produced %d chunks, want %d", c.in, len(got), c.want)
		}
	}
}
