package main

import (
	"fmt"
	"strings"
	"time"

	"go-pos-ledger/internal/auth"
	"go-pos-ledger/internal/database"
	"go-pos-ledger/internal/logger"
	"go-pos-ledger/internal/models"
	"go-pos-ledger/internal/payments"

	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Sync the database schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, db, err := bootstrap()
		if err != nil {
			return err
		}
		return database.Migrate(db)
	},
}

var expireCmd = &cobra.Command{
	Use:   "expire-payments",
	Short: "Fail UPI payments left pending too long",
	Long: `Marks pending UPI payments older than --older-than as failed.

Stock sold with those sales is not returned; every expired payment is
reported for manual reconciliation.`,
	Example: `  pos expire-payments
  pos expire-payments --older-than 2h`,
	RunE: runExpire,
}

var createUserCmd = &cobra.Command{
	Use:     "create-user",
	Short:   "Create a staff account",
	Example: `  pos create-user --username owner --password 'long-secret' --role admin`,
	RunE:    runCreateUser,
}

func init() {
	rootCmd.AddCommand(migrateCmd, expireCmd, createUserCmd)

	expireCmd.Flags().Duration("older-than", 0, "Age after which a pending payment expires (default UPI_PENDING_TTL)")

	createUserCmd.Flags().String("username", "", "Login name")
	createUserCmd.Flags().String("password", "", "Password (min 8 characters)")
	createUserCmd.Flags().String("role", auth.RoleCashier, "admin or cashier")
	_ = createUserCmd.MarkFlagRequired("username")
	_ = createUserCmd.MarkFlagRequired("password")
}

func runExpire(cmd *cobra.Command, _ []string) error {
	cfg, db, err := bootstrap()
	if err != nil {
		return err
	}

	olderThan, _ := cmd.Flags().GetDuration("older-than")
	if olderThan == 0 {
		olderThan = cfg.UPIPendingTTL
	}
	if olderThan <= 0 {
		return fmt.Errorf("pending payment expiry is disabled; pass --older-than")
	}

	// Only status changes happen here, no QR is generated.
	n, err := payments.NewService(db, nil, nil).ExpirePending(cmd.Context(), olderThan)
	if err != nil {
		return err
	}
	logger.WithComponent("expire").Info().Int("expired", n).Dur("older_than", olderThan).Msg("Done")
	fmt.Printf("Expired %d pending payment(s) older than %s\n", n, olderThan.Round(time.Second))
	return nil
}

func runCreateUser(cmd *cobra.Command, _ []string) error {
	username, _ := cmd.Flags().GetString("username")
	password, _ := cmd.Flags().GetString("password")
	role, _ := cmd.Flags().GetString("role")

	username = strings.TrimSpace(username)
	role = strings.ToLower(role)
	if username == "" {
		return fmt.Errorf("username is required")
	}
	if len(password) < 8 {
		return fmt.Errorf("password must be at least 8 characters")
	}
	if !auth.ValidRole(role) {
		return fmt.Errorf("role must be admin or cashier")
	}

	_, db, err := bootstrap()
	if err != nil {
		return err
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}

	user := models.User{Username: username, PasswordHash: hash, Role: role}
	if err := db.WithContext(cmd.Context()).Create(&user).Error; err != nil {
		return fmt.Errorf("create user %s: %w", username, err)
	}
	logger.WithComponent("users").Info().Uint("user_id", user.ID).Str("role", role).Msg("User created")
	fmt.Printf("Created %s user %q (id %d)\n", role, username, user.ID)
	return nil
}
