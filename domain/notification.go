package domain

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
)

// rawNotification accepts the canonical event keys as well as the column
// style keys written by the database trigger.
type rawNotification struct {
	EntityID         json.RawMessage `json:"entityId"`
	PlayerID         json.RawMessage `json:"playerId"`
	PlayerIDColumn   json.RawMessage `json:"player_id"`
	GameID           json.RawMessage `json:"gameId"`
	GameIDColumn     json.RawMessage `json:"game_id"`
	ChangeType       string          `json:"changeType"`
	Operation        string          `json:"operation"`
	AffectedRelation string          `json:"affectedRelation"`
	Table            string          `json:"table"`
	Slot             string          `json:"slot"`
	Timestamp        json.RawMessage `json:"timestamp"`
}

// ParseNotification turns a raw notification payload into a ChangeEvent. A
// payload without a timestamp gets one assigned from NewTimestamp.
func ParseNotification(payload []byte) (ChangeEvent, error) {
	var raw rawNotification
	if err := sonic.ConfigStd.Unmarshal(payload, &raw); err != nil {
		return ChangeEvent{}, fmt.Errorf("decode notification: %w", err)
	}

	var ev ChangeEvent
	var err error
	if ev.EntityID, err = firstID(raw.EntityID, raw.PlayerID, raw.PlayerIDColumn); err != nil {
		return ChangeEvent{}, fmt.Errorf("entity id: %w", err)
	}
	if ev.EntityID == "" {
		return ChangeEvent{}, ErrMissingEntityID
	}
	if ev.GameID, err = firstID(raw.GameID, raw.GameIDColumn); err != nil {
		return ChangeEvent{}, fmt.Errorf("game id: %w", err)
	}

	op := raw.ChangeType
	if op == "" {
		op = raw.Operation
	}
	if op != "" {
		ct, ok := ParseChangeType(op)
		if !ok {
			return ChangeEvent{}, fmt.Errorf("unknown change type %q", op)
		}
		ev.ChangeType = ct
	}

	ev.AffectedRelation = strings.TrimSpace(raw.AffectedRelation)
	if ev.AffectedRelation == "" {
		ev.AffectedRelation = strings.TrimSpace(raw.Table)
	}
	ev.Slot = strings.TrimSpace(raw.Slot)

	if ev.Timestamp, err = parseTimestamp(raw.Timestamp); err != nil {
		return ChangeEvent{}, fmt.Errorf("timestamp: %w", err)
	}
	if ev.Timestamp == "" {
		ev.Timestamp = NewTimestamp()
	}
	return ev, nil
}

func firstID(candidates ...json.RawMessage) (string, error) {
	for _, c := range candidates {
		id, err := scalarString(c)
		if err != nil {
			return "", err
		}
		if id != "" {
			return id, nil
		}
	}
	return "", nil
}

// scalarString renders a JSON string or number as text. Absent and null
// values yield "".
func scalarString(raw json.RawMessage) (string, error) {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return "", nil
	}
	if s[0] == '"' {
		var out string
		if err := sonic.ConfigStd.Unmarshal(raw, &out); err != nil {
			return "", err
		}
		return strings.TrimSpace(out), nil
	}
	if _, err := strconv.ParseFloat(s, 64); err != nil {
		return "", fmt.Errorf("unsupported value %s", s)
	}
	return s, nil
}

// parseTimestamp keeps string timestamps verbatim and converts numeric epoch
// values (seconds, or milliseconds when large) to RFC 3339.
func parseTimestamp(raw json.RawMessage) (string, error) {
	s, err := scalarString(raw)
	if err != nil || s == "" {
		return s, err
	}
	if strings.TrimSpace(string(raw))[0] == '"' {
		return s, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return "", err
	}
	if f <= 0 || math.IsInf(f, 0) || math.IsNaN(f) {
		return "", nil
	}
	var t time.Time
	if f >= 1e12 {
		t = time.UnixMilli(int64(f))
	} else {
		sec, frac := math.Modf(f)
		t = time.Unix(int64(sec), int64(frac*1e9))
	}
	return t.UTC().Format(time.RFC3339Nano), nil
}
