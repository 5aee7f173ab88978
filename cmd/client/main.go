// Command client is a headless room participant used to exercise the
// coordination server and the call mesh without a browser: it joins a room,
// optionally starts broadcasting synthetic tracks, and prints room events.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/dkeye/Collab/internal/client"
	"github.com/dkeye/Collab/internal/client/call"
	"github.com/dkeye/Collab/internal/domain"
	"github.com/dkeye/Collab/internal/protocol"
)

var (
	serverURL   string
	roomID      string
	username    string
	startCall   bool
	stunServers []string
)

func openSyntheticMedia() ([]webrtc.TrackLocal, error) {
	audio, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", "collab")
	if err != nil {
		return nil, err
	}
	video, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video", "collab")
	if err != nil {
		return nil, err
	}
	return []webrtc.TrackLocal{audio, video}, nil
}

func run(cmd *cobra.Command, args []string) error {
	sess, err := client.NewSession(client.Options{
		ServerURL:   serverURL,
		STUNServers: stunServers,
		OpenMedia:   openSyntheticMedia,
		Calls: call.Callbacks{
			OnConnected: func(peer domain.MemberID) {
				log.Info().Str("peer", string(peer)).Msg("call connected")
			},
			OnSessionClosed: func(peer domain.MemberID) {
				log.Info().Str("peer", string(peer)).Msg("call ended")
			},
		},
		OnChat: func(msg json.RawMessage) {
			fmt.Printf("chat: %s\n", msg)
		},
		OnUsers: func(users []protocol.UserInfo) {
			for _, u := range users {
				fmt.Printf("member: %s (%s)\n", u.Username, u.ID)
			}
		},
	})
	if err != nil {
		return err
	}

	if err := sess.Join(domain.RoomID(roomID), username); err != nil {
		return err
	}
	defer sess.Close()
	log.Info().Str("room", roomID).Str("self", string(sess.Self())).Msg("joined")

	if startCall {
		if err := sess.StartCall(); err != nil {
			return err
		}
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
	case <-sess.Done():
	}
	return nil
}

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	root := &cobra.Command{
		Use:   "client",
		Short: "Headless Collab room participant",
		RunE:  run,
	}
	root.Flags().StringVar(&serverURL, "server", "ws://localhost:3001/api/ws", "coordination server websocket URL")
	root.Flags().StringVar(&roomID, "room", "", "room identifier to join")
	root.Flags().StringVar(&username, "name", "guest", "display name")
	root.Flags().BoolVar(&startCall, "call", false, "start broadcasting and dial existing members")
	root.Flags().StringSliceVar(&stunServers, "stun", []string{"stun:stun.l.google.com:19302"}, "STUN server URLs")
	_ = root.MarkFlagRequired("room")

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
