package server

import "encoding/json"

// Broadcaster fans outbound messages to connections. The Server implements
// it over its ConnectionManager; the scheduler depends only on the
// interface so it can run against a recording fake in tests.
//
// Delivery is fire-and-forget: a slow or vanished recipient never blocks
// the caller.
type Broadcaster interface {
	ToRoom(room *Room, messageType string, payload any)
	ToConnection(connectionID, messageType string, payload any)
}

func encodeMessage(messageType string, payload any) ([]byte, error) {
	return json.Marshal(ServerMessage{Type: messageType, Payload: payload})
}

func (s *Server) ToRoom(room *Room, messageType string, payload any) {
	data, err := encodeMessage(messageType, payload)
	if err != nil {
		s.log.Error().Err(err).Str("type", messageType).Msg("failed to encode broadcast")
		return
	}
	for _, id := range room.ConnectionIDs() {
		s.connections.Send(id, data)
	}
}

func (s *Server) ToConnection(connectionID, messageType string, payload any) {
	data, err := encodeMessage(messageType, payload)
	if err != nil {
		s.log.Error().Err(err).Str("type", messageType).Msg("failed to encode message")
		return
	}
	s.connections.Send(connectionID, data)
}
