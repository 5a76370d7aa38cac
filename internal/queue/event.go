package queue

// EventType names a member event read from the member events stream.
type EventType string

const (
	EventTypeReady        EventType = "ready"
	EventTypeMemberJoined EventType = "member_joined"
	EventTypeMemberLeft   EventType = "member_left"
)

// Fact names an entry written to the facts stream.
type Fact string

const (
	FactMemberAdd    Fact = "guildMemberAdd"
	FactMemberRemove Fact = "guildMemberRemove"
	FactCacheFetched Fact = "cacheFetched"
)
