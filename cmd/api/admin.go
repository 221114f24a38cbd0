package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"lightchat/backend/internal/config"
	"lightchat/backend/internal/logger"
	"lightchat/backend/internal/store"
)

const minPasswordRunes = 8

var (
	adminUsername string
	adminPassword string

	adminCmd = &cobra.Command{
		Use:   "admin",
		Short: "Manage the admin account",
	}

	adminCreateCmd = &cobra.Command{
		Use:   "create",
		Short: "Create the admin account if none exists yet",
		RunE:  runAdminCreate,
	}
)

func init() {
	adminCreateCmd.Flags().StringVar(&adminUsername, "username", "", "admin username")
	adminCreateCmd.Flags().StringVar(&adminPassword, "password", "", "admin password (at least 8 characters)")
	_ = adminCreateCmd.MarkFlagRequired("username")
	_ = adminCreateCmd.MarkFlagRequired("password")
}

func runAdminCreate(cmd *cobra.Command, _ []string) error {
	username := strings.TrimSpace(adminUsername)
	if username == "" {
		return errors.New("username is required")
	}
	if len([]rune(adminPassword)) < minPasswordRunes {
		return fmt.Errorf("password must be at least %d characters", minPasswordRunes)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	st, err := store.Open(cmd.Context(), cfg, logger.Nop())
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	admin, err := st.CreateAdmin(cmd.Context(), username, adminPassword)
	if errors.Is(err, store.ErrAdminExists) {
		return errors.New("an admin account already exists")
	}
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "admin %q created\n", admin.Username)
	return nil
}
