package protocol

import (
	"errors"
	"testing"
)

func TestAuthenticatePayloadAcceptsBothShapes(t *testing.T) {
	tests := []struct {
		name  string
		frame string
		want  int
	}{
		{"object", `{"type":"authenticate","data":{"userId":7}}`, 7},
		{"bare number", `{"type":"authenticate","data":12}`, 12},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := ParseEnvelope([]byte(tt.frame))
			if err != nil {
				t.Fatalf("ParseEnvelope: %v", err)
			}
			var p AuthenticatePayload
			if err := env.Decode(&p); err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if p.UserID != tt.want {
				t.Fatalf("UserID = %d, want %d", p.UserID, tt.want)
			}
		})
	}
}

func TestParseEnvelopeRejectsMalformedFrames(t *testing.T) {
	for _, frame := range []string{``, `not json`, `{"data":{}}`, `[]`} {
		if _, err := ParseEnvelope([]byte(frame)); err == nil {
			t.Fatalf("ParseEnvelope(%q) succeeded, want error", frame)
		}
	}
}

func TestDecodeWithoutData(t *testing.T) {
	env := &Envelope{Type: EventJoinRooms}
	var ids []int
	if err := env.Decode(&ids); !errors.Is(err, ErrNoPayload) {
		t.Fatalf("Decode error = %v, want ErrNoPayload", err)
	}
}

func TestMessagePeerAndKind(t *testing.T) {
	dm := &Message{SenderID: 1, RecipientID: 2}
	if dm.Kind() != KindDirect || dm.Peer(1) != 2 || dm.Peer(2) != 1 {
		t.Fatalf("unexpected direct message helpers: kind=%s", dm.Kind())
	}
	room := &Message{SenderID: 1, RoomID: 9}
	if room.Kind() != KindGroup || !room.IsGroup() {
		t.Fatalf("unexpected room message kind %s", room.Kind())
	}
}
