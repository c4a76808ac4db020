package cli

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	"github.com/pion/webrtc/v4"
	"github.com/spf13/cobra"

	"github.com/atultiwari000/video-chat-app-2/internal/call"
	"github.com/atultiwari000/video-chat-app-2/internal/config"
	"github.com/atultiwari000/video-chat-app-2/internal/protocol"
	"github.com/atultiwari000/video-chat-app-2/internal/signalclient"
	"github.com/atultiwari000/video-chat-app-2/internal/ui"
)

var (
	flagServerURL string
	flagSTUN      string
	flagTURN      string
	flagTURNUser  string
	flagTURNPass  string
	flagName      string
	flagNoVideo   bool
)

var joinCmd = &cobra.Command{
	Use:     "join <room-id>",
	Aliases: []string{"j"},
	Short:   "Join a room and start a call with whoever is there",
	Long: `Join a room on the signaling server. The first participant waits; when a
second joins, the call starts automatically. Type to chat; Ctrl-C hangs up.

Examples:
  videocall join team-standup --name alice
  videocall join team-standup --server ws://localhost:8080/ws`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runJoin(args[0])
	},
}

func init() {
	joinCmd.Flags().StringVar(&flagServerURL, "server", "", "signaling server websocket URL")
	joinCmd.Flags().StringVar(&flagSTUN, "stun", "", "STUN server URL")
	joinCmd.Flags().StringVar(&flagTURN, "turn", "", "TURN server host")
	joinCmd.Flags().StringVar(&flagTURNUser, "turn-user", "", "TURN username")
	joinCmd.Flags().StringVar(&flagTURNPass, "turn-pass", "", "TURN password")
	joinCmd.Flags().StringVarP(&flagName, "name", "n", "", "display name (defaults to $USER)")
	joinCmd.Flags().BoolVar(&flagNoVideo, "no-video", false, "audio-only call")
	rootCmd.AddCommand(joinCmd)
}

func runJoin(room string) error {
	cfg, err := config.Load(config.Options{
		ServerURL:  flagServerURL,
		STUNServer: flagSTUN,
		TURNServer: flagTURN,
		TURNUser:   flagTURNUser,
		TURNPass:   flagTURNPass,
	})
	if err != nil {
		return err
	}

	name := flagName
	if name == "" {
		name = os.Getenv("USER")
	}
	if name == "" {
		name = "anonymous"
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	conn := signalclient.NewConn(cfg.ServerURL)
	if err := conn.Connect(); err != nil {
		return call.NewError("connect to server", err)
	}
	defer conn.Close()
	ui.PrintInfo("connected to " + cfg.ServerURL)

	events := signalclient.NewEvents(conn.Incoming(), slog.Default())
	go events.Start()

	controller := call.NewController(call.ControllerParams{
		Conn:        conn,
		Events:      events,
		Factory:     &call.PionFactory{Creds: call.NewStaticCredentials(cfg), Log: slog.Default()},
		Media:       call.StaticMediaProvider{},
		DisplayName: name,
		Constraints: call.Constraints{Audio: true, Video: !flagNoVideo},
		OnChat: func(msg protocol.ChatMessage) {
			ui.PrintChat(msg.Sender, msg.Text)
		},
		OnPeerJoined: func(m protocol.Member) {
			ui.PrintSuccess(m.DisplayName + " is here")
		},
		OnPeerLeft: func(m protocol.Member) {
			ui.PrintWarning(m.DisplayName + " left")
		},
		OnConnState: func(state webrtc.PeerConnectionState) {
			ui.PrintInfo("call " + state.String())
		},
	})

	joined, err := controller.Join(ctx, room)
	if err != nil {
		return err
	}
	ui.PrintSuccess(fmt.Sprintf("joined room %s (%d member(s))", joined.Room, len(joined.Members)))
	if len(joined.Members) == 1 {
		ui.PrintInfo("waiting for someone to join...")
	}

	go readChatLines(ctx, controller)

	err = controller.Run(ctx)
	controller.EndCall()
	if ctx.Err() != nil {
		ui.PrintInfo("call ended")
		return nil
	}
	return err
}

// readChatLines feeds stdin lines into the room chat.
func readChatLines(ctx context.Context, controller *call.Controller) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		controller.SendChat(line)
	}
}
