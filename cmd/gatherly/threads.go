package main

import (
	"context"
	"fmt"
	"time"

	gatherly "github.com/gatherly-hq/gatherly-go"
	"github.com/spf13/cobra"
)

// ============================================================================
// threads
// ============================================================================

var threadsCmd = &cobra.Command{
	Use:   "threads",
	Short: "Direct message threads",
}

// ============================================================================
// threads list
// ============================================================================

var (
	threadsListEvent string
)

var threadsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List direct message threads",
	RunE: func(cmd *cobra.Command, args []string) error {
		m := getMessenger()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		threads, err := m.Threads(ctx)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}

		var scope *string
		if threadsListEvent != "" {
			scope = &threadsListEvent
		}
		threads = gatherly.FilterByScope(threads, scope)

		if len(threads) == 0 {
			fmt.Println("No threads found.")
			return nil
		}

		for _, t := range threads {
			unread := ""
			if t.UnreadCount > 0 {
				unread = fmt.Sprintf(" (%d unread)", t.UnreadCount)
			}
			preview := ""
			if t.LastMessage != nil {
				preview = t.LastMessage.Content
			}
			fmt.Printf("%s  %s%s\n", t.ID, t.OtherUser.Username, unread)
			if preview != "" {
				fmt.Printf("    %s\n", preview)
			}
		}
		return nil
	},
}

// ============================================================================
// threads messages
// ============================================================================

var (
	threadsMessagesPage    int
	threadsMessagesPerPage int
)

var threadsMessagesCmd = &cobra.Command{
	Use:   "messages <thread-id>",
	Short: "Show a thread's message history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		threadID := args[0]
		m := getMessenger()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		messages, err := m.Messages(ctx, threadID, threadsMessagesPage, threadsMessagesPerPage)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}

		if len(messages) == 0 {
			fmt.Println("No messages found.")
			return nil
		}

		for _, msg := range messages {
			fmt.Printf("[%s] %s: %s\n", msg.CreatedAt, msg.SenderID, msg.Content)
		}
		return nil
	},
}

// ============================================================================
// threads send
// ============================================================================

var threadsSendCmd = &cobra.Command{
	Use:   "send <thread-id> <message>",
	Short: "Send a direct message",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		threadID, content := args[0], args[1]
		m := getMessenger()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		msg, err := m.SendMessage(ctx, threadID, content)
		if err != nil {
			return fmt.Errorf("send failed: %w", err)
		}

		fmt.Printf("Message sent to thread %s\n", msg.ThreadID)
		fmt.Printf("  Message ID: %s\n", msg.ID)
		fmt.Printf("  Content:    %s\n", msg.Content)
		return nil
	},
}

// ============================================================================
// threads read
// ============================================================================

var threadsReadCmd = &cobra.Command{
	Use:   "read <thread-id>",
	Short: "Mark a thread's messages as read",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		threadID := args[0]
		m := getMessenger()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		if err := m.MarkRead(ctx, threadID); err != nil {
			return fmt.Errorf("request failed: %w", err)
		}

		fmt.Printf("Thread %s marked as read\n", threadID)
		return nil
	},
}

// ============================================================================
// threads create
// ============================================================================

var (
	threadsCreateEvent string
)

var threadsCreateCmd = &cobra.Command{
	Use:   "create <user-id>",
	Short: "Open a direct message thread with a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		userID := args[0]
		m := getMessenger()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		var eventID *string
		if threadsCreateEvent != "" {
			eventID = &threadsCreateEvent
		}

		thread, err := m.CreateThread(ctx, userID, eventID)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}

		fmt.Printf("Thread %s with %s\n", thread.ID, thread.OtherUser.Username)
		return nil
	},
}

// ============================================================================
// threads clear
// ============================================================================

var threadsClearCmd = &cobra.Command{
	Use:   "clear <thread-id>",
	Short: "Clear a thread's history for your account",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		threadID := args[0]
		m := getMessenger()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		if err := m.ClearThread(ctx, threadID); err != nil {
			return fmt.Errorf("request failed: %w", err)
		}

		fmt.Printf("Thread %s cleared\n", threadID)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(threadsCmd)
	threadsCmd.AddCommand(threadsListCmd)
	threadsCmd.AddCommand(threadsMessagesCmd)
	threadsCmd.AddCommand(threadsSendCmd)
	threadsCmd.AddCommand(threadsReadCmd)
	threadsCmd.AddCommand(threadsCreateCmd)
	threadsCmd.AddCommand(threadsClearCmd)

	threadsListCmd.Flags().StringVar(&threadsListEvent, "event", "", "Filter threads to an event scope")
	threadsMessagesCmd.Flags().IntVar(&threadsMessagesPage, "page", 1, "Page number")
	threadsMessagesCmd.Flags().IntVarP(&threadsMessagesPerPage, "per-page", "n", 50, "Messages per page")
	threadsCreateCmd.Flags().StringVar(&threadsCreateEvent, "event", "", "Scope the thread to an event")
}
