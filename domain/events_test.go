package domain

import (
	"errors"
	"testing"
	"time"
)

func TestTargetTopics(t *testing.T) {
	tests := []struct {
		name string
		ev   ChangeEvent
		want []string
	}{
		{name: "player only", ev: ChangeEvent{EntityID: "p1"}, want: []string{"player:p1"}},
		{name: "player and game", ev: ChangeEvent{EntityID: "p1", GameID: "g1"}, want: []string{"player:p1", "game:g1"}},
		{name: "game only", ev: ChangeEvent{GameID: "g1"}, want: []string{"game:g1"}},
		{name: "empty", ev: ChangeEvent{}, want: []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := TargetTopics(tt.ev)
			if len(got) != len(tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, got)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Fatalf("expected %v, got %v", tt.want, got)
				}
			}
		})
	}
}

func TestParseNotificationCanonical(t *testing.T) {
	payload := `{"entityId":"p1","gameId":"g1","changeType":"Update","affectedRelation":"player_equipment","slot":"head","timestamp":"2024-05-01T10:00:00Z"}`
	ev, err := ParseNotification([]byte(payload))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	want := ChangeEvent{
		EntityID:         "p1",
		GameID:           "g1",
		ChangeType:       ChangeUpdate,
		AffectedRelation: RelationEquipment,
		Slot:             "head",
		Timestamp:        "2024-05-01T10:00:00Z",
	}
	if ev != want {
		t.Fatalf("expected %+v, got %+v", want, ev)
	}
}

func TestParseNotificationTriggerColumns(t *testing.T) {
	payload := `{"player_id":42,"game_id":"7","operation":"insert","table":"player_items","timestamp":"2024-05-01T10:00:00.123Z"}`
	ev, err := ParseNotification([]byte(payload))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if ev.EntityID != "42" || ev.GameID != "7" {
		t.Fatalf("unexpected ids %+v", ev)
	}
	if ev.ChangeType != ChangeInsert {
		t.Fatalf("expected INSERT, got %s", ev.ChangeType)
	}
	if ev.AffectedRelation != RelationItems {
		t.Fatalf("expected player_items, got %s", ev.AffectedRelation)
	}
}

func TestParseNotificationAssignsMissingTimestamp(t *testing.T) {
	first, err := ParseNotification([]byte(`{"entityId":"p1"}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if first.Timestamp == "" {
		t.Fatal("expected timestamp to be assigned")
	}
	if _, err := time.Parse(time.RFC3339Nano, first.Timestamp); err != nil {
		t.Fatalf("assigned timestamp not parseable: %v", err)
	}
	second, err := ParseNotification([]byte(`{"entityId":"p1","timestamp":""}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if second.Timestamp == "" || second.Timestamp == first.Timestamp {
		t.Fatalf("expected a distinct assigned timestamp, got %q and %q", first.Timestamp, second.Timestamp)
	}
}

func TestParseNotificationNumericTimestamp(t *testing.T) {
	ev, err := ParseNotification([]byte(`{"entityId":"p1","timestamp":1714557600.5}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if ev.Timestamp != "2024-05-01T10:00:00.5Z" {
		t.Fatalf("unexpected timestamp %s", ev.Timestamp)
	}
	ev, err = ParseNotification([]byte(`{"entityId":"p1","timestamp":1714557600000}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if ev.Timestamp != "2024-05-01T10:00:00Z" {
		t.Fatalf("unexpected timestamp %s", ev.Timestamp)
	}
}

func TestParseNotificationRejectsMalformed(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{name: "not json", payload: `player 1 changed`},
		{name: "no entity", payload: `{"gameId":"g1","timestamp":"T1"}`},
		{name: "object id", payload: `{"entityId":{"id":1}}`},
		{name: "bad change type", payload: `{"entityId":"p1","operation":"TRUNCATE"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseNotification([]byte(tt.payload)); err == nil {
				t.Fatalf("expected error for %s", tt.payload)
			}
		})
	}
	if _, err := ParseNotification([]byte(`{"gameId":"g1"}`)); !errors.Is(err, ErrMissingEntityID) {
		t.Fatalf("expected ErrMissingEntityID, got %v", err)
	}
}

func TestNewTimestampStrictlyIncreasing(t *testing.T) {
	frozen := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	prev := nowFunc
	nowFunc = func() time.Time { return frozen }
	defer func() { nowFunc = prev }()

	seen := make(map[string]struct{})
	var last time.Time
	for i := 0; i < 100; i++ {
		ts := NewTimestamp()
		if _, dup := seen[ts]; dup {
			t.Fatalf("duplicate timestamp %s", ts)
		}
		seen[ts] = struct{}{}
		parsed, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			t.Fatalf("parse %s: %v", ts, err)
		}
		if !parsed.After(last) {
			t.Fatalf("timestamp %s not after %s", parsed, last)
		}
		last = parsed
	}
}

func TestFrameRoundTrip(t *testing.T) {
	data, err := EncodeFrame("subscribe_player", "p1")
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	f, err := DecodeFrame(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	id, err := f.StringData()
	if err != nil || id != "p1" || f.Event != "subscribe_player" {
		t.Fatalf("unexpected frame %+v id=%q err=%v", f, id, err)
	}
	if _, err := DecodeFrame([]byte(`{"data":"p1"}`)); err == nil {
		t.Fatal("expected error for frame without event")
	}
}
