package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gigchat/gigchat/internal/rest"
)

func newRegisterCmd(opts *rootOptions) *cobra.Command {
	var (
		username    string
		password    string
		displayName string
		role        string
	)

	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account and log in",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := opts.loadConfig()
			if err != nil {
				return err
			}

			client := rest.New(cfg.Client.ServerURL)
			res, err := client.Register(cmd.Context(), username, password, displayName, role)
			if err != nil {
				return err
			}

			if err := persistAuth(cfg.Client.ServerURL, res); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "registered as %s (%s)\n", res.User.Username, res.User.Role)
			return nil
		},
	}

	cmd.Flags().StringVarP(&username, "username", "u", "", "account username")
	cmd.Flags().StringVarP(&password, "password", "p", "", "account password")
	cmd.Flags().StringVar(&displayName, "name", "", "display name (defaults to username)")
	cmd.Flags().StringVar(&role, "role", "", "account role: client or freelancer")
	_ = cmd.MarkFlagRequired("username")
	_ = cmd.MarkFlagRequired("password")

	return cmd
}

func newLoginCmd(opts *rootOptions) *cobra.Command {
	var (
		username string
		password string
	)

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in and store the session token",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := opts.loadConfig()
			if err != nil {
				return err
			}

			client := rest.New(cfg.Client.ServerURL)
			res, err := client.Login(cmd.Context(), username, password)
			if err != nil {
				return err
			}

			if err := persistAuth(cfg.Client.ServerURL, res); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "logged in as %s\n", res.User.Username)
			return nil
		},
	}

	cmd.Flags().StringVarP(&username, "username", "u", "", "account username")
	cmd.Flags().StringVarP(&password, "password", "p", "", "account password")
	_ = cmd.MarkFlagRequired("username")
	_ = cmd.MarkFlagRequired("password")

	return cmd
}

func persistAuth(serverURL string, res rest.AuthResult) error {
	var s sessionFile
	s.ServerURL = serverURL
	s.Token = res.Token
	s.User.ID = res.User.ID
	s.User.Username = res.User.Username
	s.User.DisplayName = res.User.DisplayName
	s.User.Role = res.User.Role
	return saveSessionFile(&s)
}
