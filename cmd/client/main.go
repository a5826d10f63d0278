// Command client is a headless meeting participant: it joins a room
// receive-only (no local tracks is a valid session) and logs membership,
// chat and inbound media. Useful for smoke-testing a deployment.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/hudl-live/huddle/internal/domain"
	"github.com/hudl-live/huddle/internal/mesh"
)

var (
	serverURL string
	roomCode  string
	name      string
)

var rootCmd = &cobra.Command{
	Use:   "huddle-client",
	Short: "Headless huddle meeting participant",
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd.Context())
	},
}

func init() {
	rootCmd.Flags().StringVarP(&serverURL, "server", "s", "ws://localhost:8080/api/ws", "signaling endpoint URL")
	rootCmd.Flags().StringVarP(&roomCode, "room", "r", "", "room code to join")
	rootCmd.Flags().StringVarP(&name, "name", "n", "huddle-bot", "display name")
	_ = rootCmd.MarkFlagRequired("room")
}

func run(ctx context.Context) error {
	c, err := mesh.Dial(ctx, serverURL)
	if err != nil {
		return err
	}

	c.OnParticipants = func(list []domain.Participant) {
		log.Info().Int("count", len(list)).Msg("participants update")
	}
	c.OnUserJoined = func(p domain.Participant) {
		log.Info().Str("id", string(p.ID)).Str("name", p.Name).Msg("user joined")
	}
	c.OnUserLeft = func(id domain.ConnID) {
		log.Info().Str("id", string(id)).Msg("user left")
	}
	c.OnChat = func(m domain.ChatMessage) {
		log.Info().Str("from", m.From.Name).Str("text", m.Text).Msg("chat")
	}

	runErr := make(chan error, 1)
	go func() { runErr <- c.Run(ctx) }()

	ack, err := c.Join(ctx, roomCode, name)
	if err != nil {
		return err
	}
	log.Info().Str("me", string(ack.Me.ID)).Str("room", roomCode).
		Int("present", len(ack.Participants)).Msg("joined room")

	m := mesh.New(ack.Me.ID, c, mesh.NewPionFactory(mesh.DefaultRTCConfiguration()),
		func(peer domain.ConnID, track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
			log.Info().Str("peer", string(peer)).Str("kind", track.Kind().String()).Msg("remote track")
		})
	defer m.Close()

	c.Attach(m)
	m.SyncParticipants(ack.Participants)

	select {
	case err := <-runErr:
		return err
	case <-ctx.Done():
		return nil
	}
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		log.Error().Err(err).Msg("client exited")
		os.Exit(1)
	}
}
