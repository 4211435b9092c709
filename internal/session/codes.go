package session

// WebSocket close codes for the /relay endpoint, spec.md §6.
const (
	CloseNormal              = 1000
	CloseInternalError       = 4000
	CloseNoClientID          = 4001
	CloseNoAuth              = 4002
	CloseNoConnectedGuild    = 4003
	CloseDuplicateConnection = 4004
	CloseServerShutdown      = 4005
)
