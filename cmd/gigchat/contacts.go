package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/gigchat/gigchat/internal/rest"
)

func newContactsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "contacts",
		Short: "List contactable users",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := loadSessionFile()
			if err != nil {
				return err
			}

			client := rest.New(sess.ServerURL, rest.WithToken(sess.Token))
			contacts, err := client.Contacts(cmd.Context())
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tROLE")
			for _, c := range contacts {
				fmt.Fprintf(w, "%s\t%s\t%s\n", c.ID, c.DisplayName, c.Role)
			}
			return w.Flush()
		},
	}
}

func newConversationsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "conversations",
		Aliases: []string{"convos"},
		Short:   "List conversations, most recent first",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := loadSessionFile()
			if err != nil {
				return err
			}

			client := rest.New(sess.ServerURL, rest.WithToken(sess.Token))
			convs, err := client.Conversations(cmd.Context())
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "PEER\tUNREAD\tLAST MESSAGE")
			for _, conv := range convs {
				peer := conv.Other(sess.User.ID)
				last := conv.LastMessage.Content
				if len(last) > 48 {
					last = last[:45] + "..."
				}
				fmt.Fprintf(w, "%s\t%d\t%s\n", peer.DisplayName, conv.UnreadCount, last)
			}
			return w.Flush()
		},
	}
}
