package nbdclient

import "github.com/nbd-go/nbdclient/internal/constants"

// Re-export internal defaults as the public API.
const (
	DefaultMaxInFlight              = constants.DefaultMaxInFlight
	DefaultPayloadCoalesceThreshold = constants.DefaultPayloadCoalesceThreshold
	DefaultMaxPayload               = constants.DefaultMaxPayload
	RequestHeaderSize               = constants.RequestHeaderSize
	SimpleReplyHeaderSize           = constants.SimpleReplyHeaderSize
)
