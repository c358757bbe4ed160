package domain

import (
	"errors"
	"strings"

	"github.com/davidarico/dungeon-crawler-chris-sub000/internal/consts"
)

type ChangeType string

const (
	ChangeInsert ChangeType = "INSERT"
	ChangeUpdate ChangeType = "UPDATE"
	ChangeDelete ChangeType = "DELETE"
)

// Relations a change may concern. Unknown relation names are passed through.
const (
	RelationPlayer    = "players"
	RelationItems     = "player_items"
	RelationSpells    = "player_spells"
	RelationLootboxes = "player_lootboxes"
	RelationEquipment = "player_equipment"
)

var ErrMissingEntityID = errors.New("change event has no entity id")

// ChangeEvent signals that data belonging to a player changed. It carries no
// entity state; consumers refetch what they need.
type ChangeEvent struct {
	EntityID         string     `json:"entityId"`
	GameID           string     `json:"gameId,omitempty"`
	ChangeType       ChangeType `json:"changeType,omitempty"`
	AffectedRelation string     `json:"affectedRelation,omitempty"`
	Slot             string     `json:"slot,omitempty"`
	Timestamp        string     `json:"timestamp"`
}

// ParseChangeType accepts the operation names emitted by database triggers in
// any letter case.
func ParseChangeType(s string) (ChangeType, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case string(ChangeInsert):
		return ChangeInsert, true
	case string(ChangeUpdate):
		return ChangeUpdate, true
	case string(ChangeDelete):
		return ChangeDelete, true
	}
	return "", false
}

func PlayerTopic(playerID string) string { return consts.PlayerTopicPrefix + playerID }

func GameTopic(gameID string) string { return consts.GameTopicPrefix + gameID }

// TargetTopics lists the topics an event fans out to: the player's topic and,
// when the event names a game, the game's topic.
func TargetTopics(ev ChangeEvent) []string {
	topics := make([]string, 0, 2)
	if ev.EntityID != "" {
		topics = append(topics, PlayerTopic(ev.EntityID))
	}
	if ev.GameID != "" {
		topics = append(topics, GameTopic(ev.GameID))
	}
	return topics
}
