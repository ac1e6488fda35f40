package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/gigchat/gigchat/internal/chat"
	"github.com/gigchat/gigchat/internal/realtime"
	"github.com/gigchat/gigchat/internal/rest"
	"github.com/gigchat/gigchat/internal/session"
)

func newChatCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat <peer>",
		Short: "Open an interactive conversation with a contact",
		Long: `Open an interactive conversation with a contact, addressed by
username, display name or id. Lines typed are sent; /quit exits.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.loadConfig()
			if err != nil {
				return err
			}
			sess, err := loadSessionFile()
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			api := rest.New(sess.ServerURL, rest.WithToken(sess.Token))

			peer, err := resolvePeer(ctx, api, args[0])
			if err != nil {
				return err
			}

			channel := realtime.NewChannel(realtime.Options{URL: sess.ServerURL}, logger)
			s := session.New(sess.participant(), sess.Token, channel, api, api, logger, session.Options{
				SampleInterval: cfg.Client.SampleInterval,
			})

			out := cmd.OutOrStdout()
			s.SetHooks(session.Hooks{
				OnMessage: func(m chat.Message) {
					if m.SenderID != sess.User.ID {
						fmt.Fprintf(out, "[%s] %s: %s\n", m.Timestamp.Local().Format("15:04"), m.SenderName, m.Content)
					}
				},
				OnHistory: func(msgs []chat.Message) {
					for _, m := range msgs {
						name := m.SenderName
						if m.SenderID == sess.User.ID {
							name = "you"
						}
						fmt.Fprintf(out, "[%s] %s: %s\n", m.Timestamp.Local().Format("15:04"), name, m.Content)
					}
				},
				OnPresence: func(userID string, online bool) {
					if userID != peer.ID {
						return
					}
					if online {
						fmt.Fprintf(out, "* %s is online\n", peer.DisplayName)
					} else {
						fmt.Fprintf(out, "* %s went offline\n", peer.DisplayName)
					}
				},
				OnBothOnline: func() {
					fmt.Fprintln(out, "* you are both online")
				},
				OnTyping: func(userID string, isTyping bool) {
					if isTyping {
						fmt.Fprintf(out, "* %s is typing...\n", peer.DisplayName)
					}
				},
				OnState: func(st realtime.State) {
					fmt.Fprintf(out, "* connection %s\n", st)
				},
			})

			runCtx, cancel := context.WithCancel(ctx)
			defer cancel()
			s.Start(runCtx)
			defer s.Close()

			if err := s.Open(peer); err != nil {
				return err
			}
			fmt.Fprintf(out, "chatting with %s; /quit to exit\n", peer.DisplayName)

			scanner := bufio.NewScanner(os.Stdin)
			for scanner.Scan() {
				line := strings.TrimSpace(scanner.Text())
				switch {
				case line == "":
					continue
				case line == "/quit":
					return nil
				case line == "/status":
					printStatus(out, s, peer)
					continue
				}

				receipt, err := s.Send(line)
				if err != nil {
					fmt.Fprintf(out, "! send rejected: %v\n", err)
					continue
				}
				go func() {
					<-receipt.Done()
					if err := receipt.Err(); err != nil {
						fmt.Fprintf(out, "! message not saved: %v\n", err)
					}
				}()
			}
			return scanner.Err()
		},
	}

	return cmd
}

func printStatus(out io.Writer, s *session.Session, peer chat.Participant) {
	if s.PeerOnline() {
		fmt.Fprintf(out, "* %s is online\n", peer.DisplayName)
	} else if at, ok := s.PeerLastSeen(); ok {
		fmt.Fprintf(out, "* %s last seen %s\n", peer.DisplayName, at.Local().Format(time.Kitchen))
	} else {
		fmt.Fprintf(out, "* %s is offline\n", peer.DisplayName)
	}
	points := s.Chart()
	if len(points) > 0 {
		var b strings.Builder
		for _, p := range points {
			if p.Both {
				b.WriteByte('#')
			} else {
				b.WriteByte('.')
			}
		}
		fmt.Fprintf(out, "* joint availability: %s\n", b.String())
	}
}

// resolvePeer matches the argument against the contact roster by id, username
// fragment or display name.
func resolvePeer(ctx context.Context, api *rest.Client, arg string) (chat.Participant, error) {
	contacts, err := api.Contacts(ctx)
	if err != nil {
		return chat.Participant{}, err
	}
	needle := strings.ToLower(arg)
	for _, c := range contacts {
		if c.ID == arg || strings.ToLower(c.DisplayName) == needle {
			return c, nil
		}
	}
	for _, c := range contacts {
		if strings.Contains(strings.ToLower(c.DisplayName), needle) {
			return c, nil
		}
	}
	return chat.Participant{}, fmt.Errorf("no contact matches %q", arg)
}
