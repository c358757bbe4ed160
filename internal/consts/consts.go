package consts

// Wire event names exchanged over the live connection.
const (
	EventSubscribePlayer   = "subscribe_player"
	EventSubscribeGame     = "subscribe_game"
	EventUnsubscribePlayer = "unsubscribe_player"
	EventUnsubscribeGame   = "unsubscribe_game"
	EventPlayerUpdated     = "player_updated"
	EventDebugUpdate       = "debug_update"
)

const (
	PlayerTopicPrefix = "player:"
	GameTopicPrefix   = "game:"

	DefaultNotifyChannel = "player_changes"
)

const (
	SSEEventPrefix = "event: "
	SSEDataPrefix  = "data: "
	SSEKeepAlive   = ": keep-alive\n\n"
)
