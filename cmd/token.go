package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/frahmantamala/pos-payments/internal"
	"github.com/frahmantamala/pos-payments/internal/auth"
	"github.com/spf13/cobra"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Operator token commands",
}

var (
	tokenOperator    string
	tokenRole        string
	tokenPermissions []string
)

var issueTokenCmd = &cobra.Command{
	Use:   "issue",
	Short: "Issue an operator access token",
	Long:  `Sign an HS256 operator token with the configured secret, for terminals and local testing.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(configPath)
		if err != nil {
			return err
		}
		if cfg.Security.JWTSecret == "" {
			return fmt.Errorf("security.jwt_secret is not configured")
		}

		permissions, err := rolePermissions(tokenRole, tokenPermissions)
		if err != nil {
			return err
		}

		token, expiresAt, err := newTokenGenerator(cfg).Issue(tokenOperator, permissions)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(auth.TokenResponse{
			AccessToken: token,
			TokenType:   "Bearer",
			ExpiresAt:   expiresAt,
		})
	},
}

func newTokenGenerator(cfg *internal.Config) *auth.JWTTokenGenerator {
	return auth.NewJWTTokenGenerator(cfg.Security.JWTSecret, cfg.Security.TokenIssuer, cfg.Security.AccessTokenDuration)
}

func rolePermissions(role string, extra []string) ([]string, error) {
	var base []string
	switch strings.ToLower(role) {
	case "cashier":
		base = auth.CashierPermissions
	case "supervisor":
		base = auth.SupervisorPermissions
	case "admin":
		base = []string{auth.PermissionAdmin}
	case "":
	default:
		return nil, fmt.Errorf("unknown role %q (cashier, supervisor, admin)", role)
	}
	return append(append([]string{}, base...), extra...), nil
}

func init() {
	issueTokenCmd.Flags().StringVar(&tokenOperator, "operator", "", "operator id (required)")
	issueTokenCmd.Flags().StringVar(&tokenRole, "role", "cashier", "cashier, supervisor or admin")
	issueTokenCmd.Flags().StringSliceVar(&tokenPermissions, "permission", nil, "extra permission to grant (repeatable)")
	_ = issueTokenCmd.MarkFlagRequired("operator")

	tokenCmd.AddCommand(issueTokenCmd)
	rootCmd.AddCommand(tokenCmd)
}
