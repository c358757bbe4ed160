package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	log "github.com/sirupsen/logrus"
)

const notifyFunction = "notify_player_change"

// TriggerTable names a table whose row changes are announced on the notify
// channel. EntityColumn holds the player id. GameColumn holds the game id;
// when empty the game is looked up on the players table.
type TriggerTable struct {
	Name         string
	EntityColumn string
	GameColumn   string
}

var DefaultTriggerTables = []TriggerTable{
	{Name: "players", EntityColumn: "id", GameColumn: "game_id"},
	{Name: "player_items", EntityColumn: "player_id"},
	{Name: "player_spells", EntityColumn: "player_id"},
	{Name: "player_lootboxes", EntityColumn: "player_id"},
	{Name: "player_equipment", EntityColumn: "player_id"},
}

func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// FunctionStatement returns the trigger function that sends one notification
// per changed row. The payload carries no timestamp; the listener assigns one.
func FunctionStatement(channel string) string {
	return `CREATE OR REPLACE FUNCTION ` + notifyFunction + `() RETURNS trigger AS $$
DECLARE
	rec jsonb;
	payload jsonb;
	gid text;
BEGIN
	IF TG_OP = 'DELETE' THEN
		rec := to_jsonb(OLD);
	ELSE
		rec := to_jsonb(NEW);
	END IF;
	payload := jsonb_build_object(
		'entityId', rec ->> TG_ARGV[0],
		'changeType', TG_OP,
		'affectedRelation', TG_TABLE_NAME);
	IF TG_ARGV[1] <> '' THEN
		gid := rec ->> TG_ARGV[1];
	ELSE
		SELECT game_id::text INTO gid FROM players WHERE id::text = rec ->> TG_ARGV[0];
	END IF;
	IF gid IS NOT NULL THEN
		payload := payload || jsonb_build_object('gameId', gid);
	END IF;
	IF rec ? 'slot' THEN
		payload := payload || jsonb_build_object('slot', rec ->> 'slot');
	END IF;
	PERFORM pg_notify(` + quoteLiteral(channel) + `, payload::text);
	RETURN NULL;
END;
$$ LANGUAGE plpgsql`
}

// TriggerStatements returns the statements that (re)attach the notify
// trigger to t. They are safe to run repeatedly.
func TriggerStatements(t TriggerTable) []string {
	trigger := pgx.Identifier{t.Name + "_notify_change"}.Sanitize()
	table := pgx.Identifier{t.Name}.Sanitize()
	return []string{
		fmt.Sprintf("DROP TRIGGER IF EXISTS %s ON %s", trigger, table),
		fmt.Sprintf(
			"CREATE TRIGGER %s AFTER INSERT OR UPDATE OR DELETE ON %s FOR EACH ROW EXECUTE FUNCTION %s(%s, %s)",
			trigger, table, notifyFunction, quoteLiteral(t.EntityColumn), quoteLiteral(t.GameColumn),
		),
	}
}

// InstallTriggers creates the notify function and attaches it to every table
// that exists. Missing tables are skipped.
func InstallTriggers(ctx context.Context, conn *pgx.Conn, logger *log.Logger, channel string, tables []TriggerTable) error {
	if _, err := conn.Exec(ctx, FunctionStatement(channel)); err != nil {
		return fmt.Errorf("create notify function: %w", err)
	}
	for _, t := range tables {
		var exists bool
		if err := conn.QueryRow(ctx, "SELECT to_regclass($1) IS NOT NULL", t.Name).Scan(&exists); err != nil {
			return fmt.Errorf("lookup table %s: %w", t.Name, err)
		}
		if !exists {
			logger.WithField("table", t.Name).Warn("table missing; trigger skipped")
			continue
		}
		for _, stmt := range TriggerStatements(t) {
			if _, err := conn.Exec(ctx, stmt); err != nil {
				return fmt.Errorf("trigger on %s: %w", t.Name, err)
			}
		}
		logger.WithField("table", t.Name).Info("notify trigger installed")
	}
	return nil
}
