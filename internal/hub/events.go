package hub

import "github.com/Tyrowin/roomhub/internal/event"

// SendEvent encodes out and sends it to one connection.
func (r *Registry) SendEvent(id string, out event.Outbound) bool {
	payload, err := out.Encode()
	if err != nil {
		r.log.Error().Err(err).Str("type", out.Type).Msg("failed to encode event")
		return false
	}
	return r.Send(id, payload)
}

// BroadcastEvent encodes out once and broadcasts it to roomID.
func (rs *Rooms) BroadcastEvent(roomID int64, out event.Outbound, exclude string) int {
	payload, err := out.Encode()
	if err != nil {
		rs.log.Error().Err(err).Str("type", out.Type).Msg("failed to encode event")
		return 0
	}
	return rs.Broadcast(roomID, payload, exclude)
}
