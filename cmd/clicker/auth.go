package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/DoyleJ11/clicker-client/internal/apperr"
	"github.com/DoyleJ11/clicker-client/pkg/types"
)

var errNotLoggedIn = errors.New("not logged in")

func newRegisterCmd(a *app) *cobra.Command {
	var req types.RegisterRequest
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account and log in",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.open(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			user, err := s.Register(cmd.Context(), req)
			if err != nil {
				return fmt.Errorf("register: %s", apperr.Message(err))
			}
			fmt.Fprintf(cmd.OutOrStdout(), "registered and logged in as %s (#%d)\n", user.Nickname, user.ID)
			return nil
		},
	}
	cmd.Flags().StringVarP(&req.Nickname, "nickname", "n", "", "nickname")
	cmd.Flags().StringVarP(&req.Email, "email", "e", "", "email (optional)")
	cmd.Flags().StringVarP(&req.Password, "password", "p", "", "password")
	_ = cmd.MarkFlagRequired("nickname")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func newLoginCmd(a *app) *cobra.Command {
	var nickname, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in and persist the credential",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.open(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			cred, err := s.Login(cmd.Context(), nickname, password)
			if err != nil {
				return fmt.Errorf("login: %s", apperr.Message(err))
			}
			fmt.Fprintf(cmd.OutOrStdout(), "logged in as %s (#%d)\n", cred.User.Nickname, cred.User.ID)
			return nil
		},
	}
	cmd.Flags().StringVarP(&nickname, "nickname", "n", "", "nickname")
	cmd.Flags().StringVarP(&password, "password", "p", "", "password")
	_ = cmd.MarkFlagRequired("nickname")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func newLogoutCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the persisted credential",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.open(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			s.Credentials().Restore(cmd.Context())
			s.Logout(cmd.Context())
			return nil
		},
	}
}

func newWhoamiCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the logged-in user",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.open(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			cred, ok := s.Credentials().Restore(cmd.Context())
			if !ok {
				return errNotLoggedIn
			}
			// confirm the token still works, refreshing it if needed
			user, err := s.API().CurrentUser(cmd.Context(), cred.Token)
			if err != nil && errors.Is(err, apperr.ErrAuth) {
				if _, rerr := s.Credentials().Refresh(cmd.Context()); rerr != nil {
					return errNotLoggedIn
				}
				user, err = s.API().CurrentUser(cmd.Context(), s.Credentials().Token())
			}
			if err != nil {
				return fmt.Errorf("whoami: %s", apperr.Message(err))
			}
			if err := s.Credentials().UpdateUser(cmd.Context(), user); err != nil {
				a.log.Warn("update stored user", zap.Error(err))
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s (#%d)\n", user.Nickname, user.ID)
			return nil
		},
	}
}
