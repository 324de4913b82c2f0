package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/cairnwell/ragline/pkg/chat"
)

func newChatCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Interactive retrieval-augmented chat session",
		RunE: func(cmd *cobra.Command, args []string) error {
			tenant := viper.GetString("tenant")
			if tenant == "" {
				return errors.New("--tenant is required")
			}
			rt, err := buildRuntime(true)
			if err != nil {
				return err
			}
			orch, err := buildOrchestrator(rt)
			if err != nil {
				return err
			}

			conversationID, _ := cmd.Flags().GetString("conversation")
			scanner := bufio.NewScanner(os.Stdin)
			scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
			for {
				fmt.Print("> ")
				if !scanner.Scan() {
					return scanner.Err()
				}
				line := strings.TrimSpace(scanner.Text())
				if line == "" {
					continue
				}
				if line == "/quit" || line == "/exit" {
					return nil
				}
				conversationID = runOneTurn(cmd, orch, tenant, conversationID, line)
			}
		},
	}
	cmd.Flags().String("conversation", "", "resume an existing conversation id")
	return cmd
}

// runOneTurn streams one answer to stdout and returns the conversation id to
// use for the next turn (unchanged on failure).
func runOneTurn(cmd *cobra.Command, orch *chat.Orchestrator, tenant, conversationID, message string) string {
	stream := orch.RunTurn(cmd.Context(), chat.TurnRequest{
		TenantID:       tenant,
		ConversationID: conversationID,
		Message:        message,
	})
	defer stream.Close()

	for ev := range stream.Events() {
		switch ev.Type {
		case chat.EventToken:
			fmt.Print(ev.Content)
		case chat.EventDone:
			fmt.Println()
			if ev.ConversationID != "" {
				conversationID = ev.ConversationID
			}
		case chat.EventError:
			if ev.Code == chat.CodeRejected {
				// Deflections are normal replies, not failures.
				fmt.Println(ev.Content)
			} else {
				fmt.Fprintf(os.Stderr, "error (%s): %s\n", ev.Code, ev.Content)
			}
		}
	}
	return conversationID
}
