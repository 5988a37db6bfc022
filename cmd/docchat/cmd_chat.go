package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/user/docchat/internal/agent"
	"github.com/user/docchat/internal/stream"
	"github.com/user/docchat/internal/types"
)

var (
	chatUser         string
	chatDocument     string
	chatCorpus       string
	chatConversation int64
	chatEngine       string
	chatAnonymous    bool
)

func init() {
	rootCmd.AddCommand(chatCmd)
	chatCmd.Flags().StringVar(&chatUser, "user", "", "user id owning the conversation")
	chatCmd.Flags().StringVar(&chatDocument, "document", "", "document id to chat about")
	chatCmd.Flags().StringVar(&chatCorpus, "corpus", "", "corpus id to chat about")
	chatCmd.Flags().Int64Var(&chatConversation, "conversation", 0, "existing conversation id to continue")
	chatCmd.Flags().StringVar(&chatEngine, "engine", "", "agent engine (funccall or react)")
	chatCmd.Flags().BoolVar(&chatAnonymous, "anonymous", false, "run without persisting any conversation state")
}

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat interactively about a document or corpus",
	Args:  cobra.NoArgs,
	RunE:  runChat,
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	setupLogging(cfg)

	if chatDocument == "" && chatCorpus == "" {
		return fmt.Errorf("one of --document or --corpus is required")
	}

	a, err := newApp(cfg)
	if err != nil {
		return err
	}

	subject := types.Subject{Kind: types.SubjectDocument, ID: types.SubjectID(chatDocument)}
	if chatCorpus != "" {
		subject = types.Subject{Kind: types.SubjectCorpus, ID: types.SubjectID(chatCorpus)}
	}
	if subject.Kind == types.SubjectDocument {
		if doc, err := a.documents.Get(cmd.Context(), subject.ID); err == nil {
			subject.Title = doc.Title
		}
	}

	user := types.UserID(chatUser)
	if chatAnonymous {
		user = ""
	}

	ctx := cmd.Context()
	ag, err := a.agentFor(ctx, chatEngine, user, subject, types.ConversationID(chatConversation))
	if err != nil {
		return err
	}

	if conv := ag.Conversation(); conv != nil {
		fmt.Printf("Conversation %d (%s)\n", int64(conv.ID), conv.Title)
	} else {
		fmt.Println("Anonymous session: nothing will be saved.")
	}
	fmt.Println("Type a question, or /quit to exit.")

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "/quit" || line == "/exit" {
			break
		}

		events, err := ag.Stream(ctx, line)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			continue
		}
		drainChat(ctx, ag, scanner, events)
	}
	return scanner.Err()
}

// drainChat prints a turn's events, handling approval pauses by asking on
// stdin and resuming until the turn reaches a final or error event.
func drainChat(ctx context.Context, ag agent.CoreAgent, scanner *bufio.Scanner, events <-chan stream.Event) {
	for {
		var pending *stream.Event
		for ev := range events {
			switch ev.Type {
			case stream.EventThought:
				fmt.Printf("\n[thinking] %s\n", ev.Content)
			case stream.EventContent:
				fmt.Print(ev.Content)
			case stream.EventSource:
				if len(ev.Sources) > 0 {
					fmt.Printf("[%d passages retrieved]\n", len(ev.Sources))
				}
			case stream.EventApprovalNeeded:
				p := ev
				pending = &p
			case stream.EventApprovalResult:
				fmt.Printf("\n[approval %s]\n", ev.Decision)
			case stream.EventError:
				fmt.Fprintf(os.Stderr, "\nerror: %s\n", ev.Error)
			case stream.EventFinal:
				fmt.Println()
			}
		}
		if pending == nil {
			return
		}

		call := pending.PendingToolCall
		fmt.Printf("\nThe agent wants to run %q with arguments %s\n", call.Name, string(call.Arguments))
		fmt.Print("Approve? [y/N]: ")
		approved := false
		if scanner.Scan() {
			answer := strings.ToLower(strings.TrimSpace(scanner.Text()))
			approved = answer == "y" || answer == "yes"
		}

		resumed, err := ag.ResumeWithApproval(ctx, pending.LLMMessageID, approved)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			return
		}
		events = resumed
	}
}
