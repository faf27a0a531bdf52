package mesh

import (
	"errors"
	"testing"

	"github.com/openfesta/festmesh/internal/errs"
	"github.com/openfesta/festmesh/internal/model"
)

func TestNewMessage_ClampsTTL(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		in   int
		want int
	}{
		{"negative", -1, 0},
		{"zero", 0, 0},
		{"in range", 3, 3},
		{"max", model.MaxTTL, model.MaxTTL},
		{"above max", 10, model.MaxTTL},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m, err := NewMessage("sender-fp", "", "", model.MessageText, []byte("hi"), false, tc.in)
			if err != nil {
				t.Fatalf("NewMessage: %v", err)
			}
			if m.TTL != tc.want {
				t.Fatalf("ttl=%d, want=%d", m.TTL, tc.want)
			}
		})
	}
}

func TestNewMessage_Validation(t *testing.T) {
	t.Parallel()
	if _, err := NewMessage("", "", "", model.MessageText, []byte("x"), false, 1); !errors.Is(err, errs.ErrInvalidInput) {
		t.Fatalf("empty sender: got %v, want ErrInvalidInput", err)
	}
	if _, err := NewMessage("s", "", "", "", []byte("x"), false, 1); !errors.Is(err, errs.ErrInvalidInput) {
		t.Fatalf("empty type: got %v, want ErrInvalidInput", err)
	}
}

func TestNewMessage_AssignsIDAndTime(t *testing.T) {
	t.Parallel()
	a, _ := NewMessage("s", "r", "room", model.MessageText, []byte("x"), true, 2)
	b, _ := NewMessage("s", "r", "room", model.MessageText, []byte("x"), true, 2)
	if a.ID == b.ID {
		t.Fatalf("messages share an id")
	}
	if a.CreatedAt.IsZero() {
		t.Fatalf("created_at not set")
	}
}

func TestBroadcast(t *testing.T) {
	t.Parallel()
	m, _ := NewMessage("s", "", "", model.MessageText, []byte("x"), false, 1)
	if !m.Broadcast() {
		t.Fatalf("empty recipient must be broadcast")
	}
	m.Recipient = model.BroadcastRecipient
	if !m.Broadcast() {
		t.Fatalf("sentinel recipient must be broadcast")
	}
	m.Recipient = "some-fp"
	if m.Broadcast() {
		t.Fatalf("addressed message reported as broadcast")
	}
}

func TestRelay(t *testing.T) {
	t.Parallel()
	m, _ := NewMessage("s", "", "", model.MessageText, []byte("x"), false, 2)

	hop1, ok := Relay(m)
	if !ok || hop1.TTL != 1 {
		t.Fatalf("first relay: ok=%v ttl=%d", ok, hop1.TTL)
	}
	if m.TTL != 2 {
		t.Fatalf("relay mutated the original message")
	}

	hop2, ok := Relay(hop1)
	if !ok || hop2.TTL != 0 {
		t.Fatalf("second relay: ok=%v ttl=%d", ok, hop2.TTL)
	}

	if _, ok := Relay(hop2); ok {
		t.Fatalf("exhausted hop budget must drop the message")
	}
}
