package worldchannel

import "errors"

// ErrUnknownEntity is returned when a host operation names an entity
// the channel has no host-side record of.
var ErrUnknownEntity = errors.New("worldchannel: unknown entity")
