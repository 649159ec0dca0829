package event

import (
	"encoding/json"
	"testing"

	"github.com/chatsync/internal/model"
)

func TestDecodeRoutesPayloadTypes(t *testing.T) {
	raw, err := json.Marshal(Event{
		Type:    TypeMessageCreated,
		Payload: &model.Message{ID: "m1", ChatID: "c1", SenderID: "u1", Text: "hi"},
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	ev, err := Decode(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	m, ok := ev.Payload.(*model.Message)
	if !ok || m.ID != "m1" || m.Text != "hi" {
		t.Fatalf("payload: %T %+v", ev.Payload, ev.Payload)
	}
	if ev.ChatID() != "c1" {
		t.Fatalf("chat id: %s", ev.ChatID())
	}
}

func TestDecodeUnknownType(t *testing.T) {
	if _, err := Decode([]byte(`{"type":"made_up","payload":{}}`)); err == nil {
		t.Fatalf("unknown type accepted")
	}
}

func TestChatIDExtraction(t *testing.T) {
	cases := []struct {
		ev   Event
		want string
	}{
		{Event{Type: TypeHistoryLoaded, Payload: HistoryPayload{ChatID: "a"}}, "a"},
		{Event{Type: TypePinnedChanged, Payload: PinnedChangedPayload{ChatID: "b"}}, "b"},
		{Event{Type: TypeChatTouched, Payload: ChatTouchedPayload{Chat: model.Chat{ID: "c"}}}, "c"},
		{Event{Type: TypeError, Payload: ErrorPayload{Message: "x"}}, ""},
	}
	for _, c := range cases {
		if got := c.ev.ChatID(); got != c.want {
			t.Fatalf("ChatID() = %q, want %q", got, c.want)
		}
	}
}
