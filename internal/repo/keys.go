package repo

// Keys builds the Redis key layout under a namespace prefix.
//
//	{prefix}rooms                  hash  roomName -> roomUrl
//	{prefix}room:{name}:members    set   display names, TTL'd
//	{prefix}room:{name}:lock       string provisioning lock owner token
//	{prefix}orphans                set   external room ids awaiting teardown
//	{prefix}events:{name}          pub/sub channel
type Keys struct {
	Prefix string
}

func (k Keys) Rooms() string { return k.Prefix + "rooms" }

func (k Keys) Members(room string) string { return k.Prefix + "room:" + room + ":members" }

func (k Keys) Lock(room string) string { return k.Prefix + "room:" + room + ":lock" }

func (k Keys) Orphans() string { return k.Prefix + "orphans" }

func (k Keys) Events(room string) string { return k.Prefix + "events:" + room }
