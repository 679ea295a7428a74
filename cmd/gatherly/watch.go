package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	gatherly "github.com/gatherly-hq/gatherly-go"
	"github.com/spf13/cobra"
)

// ============================================================================
// watch
// ============================================================================

var (
	watchRooms []string
	watchEvent string
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream live messaging activity",
	Long:  "Connect the realtime channel and print incoming messages, read receipts, and typing indicators until interrupted.",
	RunE: func(cmd *cobra.Command, args []string) error {
		m := getMessenger()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		if err := m.Connect(ctx); err != nil {
			return fmt.Errorf("connect failed: %w", err)
		}
		defer m.Close()

		readyCtx, readyCancel := context.WithTimeout(ctx, 15*time.Second)
		err := m.WaitReady(readyCtx)
		readyCancel()
		if err != nil {
			return fmt.Errorf("channel not ready: %w", err)
		}
		fmt.Println("Connected. Waiting for activity (Ctrl-C to exit).")

		if watchEvent != "" {
			if err := m.JoinEvent(ctx, watchEvent); err != nil {
				fmt.Fprintf(os.Stderr, "join event failed: %v\n", err)
			}
		}

		onThread := func(ev gatherly.ThreadEvent) {
			switch ev.Type {
			case gatherly.ThreadNewMessage:
				fmt.Printf("[dm %s] %s: %s\n", ev.ThreadID, ev.Message.SenderID, ev.Message.Content)
			case gatherly.ThreadMessagesRead:
				fmt.Printf("[dm %s] read by %s\n", ev.ThreadID, ev.ReaderID)
			case gatherly.ThreadTyping:
				if ev.IsTyping {
					fmt.Printf("[dm %s] typing...\n", ev.ThreadID)
				}
			}
		}
		threads, err := m.Threads(ctx)
		if err != nil {
			return fmt.Errorf("fetch threads: %w", err)
		}
		for _, t := range threads {
			m.OnThread(t.ID, onThread)
		}

		for _, roomID := range watchRooms {
			if _, err := m.JoinRoom(ctx, roomID); err != nil {
				fmt.Fprintf(os.Stderr, "join room %s failed: %v\n", roomID, err)
				continue
			}
			m.OnRoom(roomID, func(ev gatherly.RoomEvent) {
				switch ev.Type {
				case gatherly.RoomNewMessage:
					fmt.Printf("[room %s] %s: %s\n", ev.RoomID, ev.Message.SenderID, ev.Message.Content)
				case gatherly.RoomMessageModerated:
					fmt.Printf("[room %s] message %s moderated\n", ev.RoomID, ev.MessageID)
				case gatherly.RoomMessageRemoved:
					fmt.Printf("[room %s] message %s removed\n", ev.RoomID, ev.MessageID)
				case gatherly.RoomUserCountChanged:
					fmt.Printf("[room %s] %d users\n", ev.RoomID, ev.UserCount)
				}
			})
		}

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		fmt.Println("\nDisconnecting.")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().StringSliceVar(&watchRooms, "room", nil, "Chat room to join and watch (repeatable)")
	watchCmd.Flags().StringVar(&watchEvent, "event", "", "Event broadcast scope to join")
}
