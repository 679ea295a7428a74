package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// ============================================================================
// rooms
// ============================================================================

var roomsCmd = &cobra.Command{
	Use:   "rooms",
	Short: "Event chat rooms",
}

// ============================================================================
// rooms messages
// ============================================================================

var roomsMessagesCmd = &cobra.Command{
	Use:   "messages <room-id>",
	Short: "Show a chat room's recent messages",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		roomID := args[0]
		m := getMessenger()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		state, err := m.JoinRoom(ctx, roomID)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}

		if len(state.Messages) == 0 {
			fmt.Println("No messages found.")
			return nil
		}

		for _, msg := range state.Messages {
			fmt.Printf("[%s] %s: %s\n", msg.CreatedAt, msg.SenderID, msg.Content)
		}
		fmt.Printf("%d users in room\n", state.Room.UserCount)
		return nil
	},
}

// ============================================================================
// rooms send
// ============================================================================

var roomsSendCmd = &cobra.Command{
	Use:   "send <room-id> <message>",
	Short: "Send a message to a chat room",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		roomID, content := args[0], args[1]
		m := getMessenger()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		msg, err := m.SendRoomMessage(ctx, roomID, content)
		if err != nil {
			return fmt.Errorf("send failed: %w", err)
		}

		fmt.Printf("Message sent to room %s\n", roomID)
		fmt.Printf("  Message ID: %s\n", msg.ID)
		fmt.Printf("  Content:    %s\n", msg.Content)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(roomsCmd)
	roomsCmd.AddCommand(roomsMessagesCmd)
	roomsCmd.AddCommand(roomsSendCmd)
}
