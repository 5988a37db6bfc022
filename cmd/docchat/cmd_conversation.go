package main

import (
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/user/docchat/internal/state"
	"github.com/user/docchat/internal/types"
)

var conversationUser string

func init() {
	rootCmd.AddCommand(conversationCmd)
	conversationCmd.AddCommand(conversationListCmd, conversationShowCmd)
	conversationListCmd.Flags().StringVar(&conversationUser, "user", "", "filter by user id")
}

var conversationCmd = &cobra.Command{
	Use:   "conversation",
	Short: "Inspect stored conversations",
}

var conversationListCmd = &cobra.Command{
	Use:   "list",
	Short: "List conversations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		conversations := state.NewConversationStore(cfg.DataDir)

		list, err := conversations.List(cmd.Context(), types.UserID(conversationUser))
		if err != nil {
			return fmt.Errorf("list conversations: %w", err)
		}
		if len(list) == 0 {
			fmt.Println("No conversations found.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tUSER\tSUBJECT\tTITLE\tCREATED")
		for _, c := range list {
			fmt.Fprintf(w, "%d\t%s\t%s/%s\t%s\t%s\n",
				int64(c.ID),
				c.UserID,
				c.SubjectKind,
				c.SubjectID,
				c.Title,
				c.CreatedAt.Format("2006-01-02 15:04:05"),
			)
		}
		return w.Flush()
	},
}

var conversationShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a conversation's messages",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		messages := state.NewMessageStore(cfg.DataDir)

		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid conversation id: %s", args[0])
		}

		list, err := messages.List(cmd.Context(), types.ConversationID(id))
		if err != nil {
			return fmt.Errorf("list messages: %w", err)
		}
		if len(list) == 0 {
			fmt.Println("No messages found.")
			return nil
		}

		for _, msg := range list {
			fmt.Printf("--- #%d %s (%s)\n", int64(msg.ID), msg.Kind, msg.Data.State)
			if msg.Content != "" {
				fmt.Println(msg.Content)
			}
			for _, entry := range msg.Data.Timeline {
				fmt.Printf("  [%s] %s\n", entry.Type, entry.Text)
			}
		}
		return nil
	},
}
