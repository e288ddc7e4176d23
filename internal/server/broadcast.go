package server

import (
	"context"
	"errors"

	"github.com/atelierhq/collabd"
	"github.com/atelierhq/collabd/internal/protocol"
	"github.com/atelierhq/collabd/internal/session"
)

// send serializes and queues one envelope for one session. Delivery is
// at-most-once: a failure runs the disconnect cleanup for that session and
// is never retried.
func (s *Server) send(ctx context.Context, sess *session.Session, env collabd.Envelope) error {
	data, err := protocol.Encode(env)
	if err != nil {
		return err
	}
	return s.sendRaw(ctx, sess, data)
}

func (s *Server) sendRaw(ctx context.Context, sess *session.Session, data []byte) error {
	if err := sess.SendRaw(ctx, data); err != nil {
		s.logger.Warn("send failed, disconnecting session",
			"session_id", sess.ID(), "err", err)
		s.disconnect(ctx, sess)
		return err
	}
	s.metrics.MessageSent()
	return nil
}

// SendTo delivers the envelope to exactly one session.
func (s *Server) SendTo(ctx context.Context, sessionID string, env collabd.Envelope) error {
	sess := s.registry.Get(sessionID)
	if sess == nil {
		return errors.New(collabd.ErrSessionNotFound)
	}
	return s.send(ctx, sess, env)
}

// SendToRoom delivers the envelope to every current member of the room
// except excludeID. Membership is snapshotted first, then sends happen
// outside the room lock, so a session disconnecting mid-broadcast cannot
// corrupt the iteration.
func (s *Server) SendToRoom(ctx context.Context, roomName string, env collabd.Envelope, excludeID string) {
	data, err := protocol.Encode(env)
	if err != nil {
		s.logger.Error("encode broadcast envelope", "room", roomName, "err", err)
		return
	}

	for _, id := range s.rooms.Members(roomName) {
		if id == excludeID {
			continue
		}
		if sess := s.registry.Get(id); sess != nil {
			s.sendRaw(ctx, sess, data)
		}
	}
}

// BroadcastAll delivers the envelope to every live session except excludeID.
func (s *Server) BroadcastAll(ctx context.Context, env collabd.Envelope, excludeID string) {
	data, err := protocol.Encode(env)
	if err != nil {
		s.logger.Error("encode broadcast envelope", "err", err)
		return
	}

	for _, sess := range s.registry.List() {
		if sess.ID() == excludeID {
			continue
		}
		s.sendRaw(ctx, sess, data)
	}
}
