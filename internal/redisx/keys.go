package redisx

import "time"

const (
	// Realtime access token record: rt:token:{token_id} -> claims JSON.
	// Key TTL = token ttl + grace so expired-but-recent stays
	// distinguishable from unknown.
	KeyToken = "rt:token:%s"

	// Dedup processed transition commands: dedup:{service}:{event_id}
	KeyDedup = "dedup:%s:%s"
)

var (
	TTLDedup = 48 * time.Hour
)
