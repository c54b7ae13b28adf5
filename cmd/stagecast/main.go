package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	ossignal "os/signal"
	"strings"
	"syscall"

	pion "github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/aman25072025/stagecast/internal/config"
	"github.com/aman25072025/stagecast/internal/domain"
	"github.com/aman25072025/stagecast/internal/rtc"
	"github.com/aman25072025/stagecast/internal/session"
	sigclient "github.com/aman25072025/stagecast/internal/signal"
)

const helpText = `stagecast - broadcast a room to many viewers with moderated co-speaking

Usage:
  stagecast [room]

The room id is taken from the argument, or from STAGECAST_ROOM_ID.

Environment Variables:
  STAGECAST_RELAY_URL     Relay WebSocket URL (default ws://localhost:5000/ws)
  STAGECAST_ROOM_ID       Room to join
  STAGECAST_DISPLAY_NAME  Name shown to other participants
  STAGECAST_ROLE          Requested role: broadcaster or viewer (default viewer)
  STAGECAST_LOG_LEVEL     debug, info, warn, error (default info)

Commands (stdin):
  raise            request to speak (viewer)
  approve <peer>   grant a raised hand (broadcaster)
  decline <peer>   refuse a raised hand (broadcaster)
  stop [peer]      stop speaking; with a peer id, revoke that speaker
  mute | unmute    toggle microphone
  cam on | cam off toggle camera
  share | unshare  screen share (broadcaster)
  status           print the session snapshot
  quit             leave the room

Options:
  -h, --help  Show this help message
`

func main() {
	if len(os.Args) > 1 && (os.Args[1] == "-h" || os.Args[1] == "--help") {
		fmt.Print(helpText)
		os.Exit(0)
	}

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	if level, perr := zerolog.ParseLevel(cfg.LogLevel); perr == nil {
		zerolog.SetGlobalLevel(level)
	}

	roomID := cfg.RoomID
	if len(os.Args) > 1 {
		roomID = os.Args[1]
	}
	if roomID == "" {
		log.Fatal().Msg("no room id: pass one as an argument or set STAGECAST_ROOM_ID")
	}

	factory, err := rtc.NewFactory(pionICEServers(cfg.ICEServers), log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("create peer factory")
	}
	devices := rtc.NewDevices(log.Logger)

	sess := session.New(factory, devices, cfg.DisplayName, log.Logger)
	sc := sigclient.NewClient(cfg.RelayURL, cfg.PingInterval, sess, log.Logger)
	sess.SetSignaler(sc)

	if err := sc.Connect(); err != nil {
		log.Fatal().Err(err).Msg("connect to relay")
	}

	role := domain.ParseRole(cfg.Role)
	if err := sess.Join(roomID, role); err != nil {
		if errors.Is(err, domain.ErrMediaAccessDenied) {
			log.Warn().Err(err).Msg("joining without local media")
			err = sess.JoinWithoutMedia(roomID, role)
		}
		if err != nil {
			log.Fatal().Err(err).Msg("join room")
		}
	}

	ctx, cancel := ossignal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go commandLoop(sess, cancel)

	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down")
	case <-sess.Done():
		if err := sess.Err(); err != nil {
			log.Error().Err(err).Msg("session ended")
		}
	}

	sess.Leave()
	log.Info().Msg("done")
}

func pionICEServers(servers []config.ICEServer) []pion.ICEServer {
	out := make([]pion.ICEServer, 0, len(servers))
	for _, s := range servers {
		out = append(out, pion.ICEServer{
			URLs:       s.URLs,
			Username:   s.Username,
			Credential: s.Credential,
		})
	}
	return out
}

func commandLoop(sess *session.Session, cancel context.CancelFunc) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		arg := ""
		if len(fields) > 1 {
			arg = fields[1]
		}

		var err error
		switch fields[0] {
		case "raise":
			err = sess.RaiseHand()
		case "approve":
			err = sess.Approve(domain.ParticipantID(arg))
		case "decline":
			err = sess.Decline(domain.ParticipantID(arg))
		case "stop":
			if arg == "" {
				err = sess.StopSpeaking()
			} else {
				err = sess.StopSpeaker(domain.ParticipantID(arg))
			}
		case "mute":
			err = sess.SetAudioEnabled(false)
		case "unmute":
			err = sess.SetAudioEnabled(true)
		case "cam":
			err = sess.SetVideoEnabled(arg == "on")
		case "share":
			err = sess.StartScreenShare()
		case "unshare":
			err = sess.StopScreenShare()
		case "status":
			printSnapshot(sess.Snapshot())
		case "quit", "exit":
			cancel()
			return
		default:
			fmt.Fprintf(os.Stderr, "unknown command: %s\n", fields[0])
		}
		if err != nil {
			log.Error().Err(err).Str("command", fields[0]).Msg("command failed")
		}
	}
}

func printSnapshot(snap session.Snapshot) {
	fmt.Printf("self=%s role=%s broadcaster=%s joined=%t\n",
		snap.SelfID, snap.Role, snap.BroadcasterID, snap.Joined)
	fmt.Printf("media: muted=%t videoOff=%t sharing=%t handRaised=%t speaking=%t\n",
		snap.Media.AudioMuted, snap.Media.VideoOff, snap.Media.ScreenSharing,
		snap.HandRaised, snap.Speaking)
	for _, l := range snap.Links {
		fmt.Printf("link: %s %s %s\n", l.PeerID, l.Direction, l.State)
	}
	for id := range snap.RemoteStreams {
		fmt.Printf("stream: %s\n", id)
	}
	for _, h := range snap.HandRaises {
		fmt.Printf("raised: %s (%s)\n", h.PeerID, h.DisplayName)
	}
	for _, id := range snap.SpeakingRoster {
		fmt.Printf("speaking: %s\n", id)
	}
}
