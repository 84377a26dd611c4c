package session

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/hireloop/meet/internal/domain"
	"github.com/hireloop/meet/internal/signal"
)

// superviseReconnect reopens the signaling channel after an unexpected drop:
// bounded exponential backoff, cancelled by Disconnect. Peer links are kept;
// the roster is reconciled against the fresh join acknowledgment, since
// messages across reconnects are only eventually consistent.
func (s *Controller) superviseReconnect() {
	s.mu.Lock()
	ctx := s.ctx
	room := s.room
	token := s.token
	s.mu.Unlock()
	if ctx == nil || ctx.Err() != nil {
		return
	}

	delay := s.opts.ReconnectBase
	for attempt := 1; attempt <= s.opts.ReconnectAttempts; attempt++ {
		s.publish(ReconnectingEvent{Attempt: attempt})
		log.Warn().Str("module", "session").Int("attempt", attempt).Dur("delay", delay).Msg("signaling lost, reconnecting")

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		if delay *= 2; delay > s.opts.ReconnectCap {
			delay = s.opts.ReconnectCap
		}

		ch, err := signal.Open(ctx, s.opts.Endpoint, room, token)
		if err != nil {
			log.Warn().Err(err).Str("module", "session").Int("attempt", attempt).Msg("reconnect dial failed")
			continue
		}
		ack, early, err := awaitJoined(ctx, ch, s.opts.JoinTimeout)
		if err != nil {
			ch.Close()
			log.Warn().Err(err).Str("module", "session").Int("attempt", attempt).Msg("reconnect join failed")
			continue
		}

		s.mu.Lock()
		if s.closing {
			s.mu.Unlock()
			ch.Close()
			return
		}
		s.ch = ch
		s.mu.Unlock()

		s.syncRoster(ack)
		for _, env := range early {
			s.dispatch(env)
		}
		log.Info().Str("module", "session").Int("attempt", attempt).Msg("signaling reconnected")
		s.run(ch)
		return
	}

	log.Error().Str("module", "session").Int("attempts", s.opts.ReconnectAttempts).Msg("reconnect attempts exhausted")
	s.publish(SessionErrorEvent{
		Err: fmt.Errorf("%w: gave up after %d reconnect attempts", domain.ErrConnection, s.opts.ReconnectAttempts),
	})
}
