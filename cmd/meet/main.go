// Command meet joins a meeting room with synthetic media and logs session
// events. It exists to exercise the coordinator against the dev signaling
// server without a browser in the loop.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/hireloop/meet/internal/config"
	"github.com/hireloop/meet/internal/domain"
	"github.com/hireloop/meet/internal/media"
	"github.com/hireloop/meet/internal/session"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Error().Err(err).Msg("failed to load config")
	}

	sess := session.New(session.Options{
		Endpoint:          cfg.Endpoint,
		JoinTimeout:       cfg.JoinTimeout,
		ReconnectAttempts: cfg.ReconnectAttempts,
		ReconnectBase:     cfg.ReconnectBase,
		ReconnectCap:      cfg.ReconnectCap,
	}, &media.SyntheticProvider{})

	if err := sess.Connect(ctx, domain.RoomID(cfg.Room), cfg.Token, nil); err != nil {
		log.Fatal().Err(err).Msg("connect failed")
	}
	log.Info().Int64("self", int64(sess.SelfID())).Msg("joined meeting")

	go func() {
		<-ctx.Done()
		sess.Disconnect()
	}()

	for ev := range sess.Events() {
		switch e := ev.(type) {
		case session.ParticipantJoinedEvent:
			log.Info().Int64("participant", int64(e.Participant.ID)).Str("name", e.Participant.Name).Msg("participant joined")
		case session.ParticipantLeftEvent:
			log.Info().Int64("participant", int64(e.Participant.ID)).Msg("participant left")
		case session.RemoteStreamEvent:
			log.Info().Int64("participant", int64(e.Participant)).Str("stream", e.StreamID).Str("kind", e.Track.Kind().String()).Msg("remote stream")
		case session.PeerStateEvent:
			if e.Err != nil {
				log.Error().Err(e.Err).Int64("participant", int64(e.Participant)).Str("state", e.State.String()).Msg("peer state")
			} else {
				log.Info().Int64("participant", int64(e.Participant)).Str("state", e.State.String()).Msg("peer state")
			}
		case session.ChatEvent:
			log.Info().Int64("from", int64(e.From)).Str("text", e.Text).Msg("chat")
		case session.StatusEvent:
			log.Info().Int64("from", int64(e.From)).Str("type", e.Type).Msg("status")
		case session.ReconnectingEvent:
			log.Warn().Int("attempt", e.Attempt).Msg("reconnecting")
		case session.SessionErrorEvent:
			log.Error().Err(e.Err).Msg("session error")
		case session.DisconnectedEvent:
			log.Info().Msg("session ended")
		}
	}
}
