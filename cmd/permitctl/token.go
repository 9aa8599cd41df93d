package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/spec-kit/permit-service/internal/auth"
	"github.com/spec-kit/permit-service/internal/config"
	"github.com/spec-kit/permit-service/internal/domain"
)

func tokenCmd() *cobra.Command {
	var (
		subjectID string
		subject   string
		role      string
		companyID string
		secret    string
		ttl       int
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for local testing",
		RunE: func(cmd *cobra.Command, args []string) error {
			if secret == "" || ttl <= 0 {
				cfg, err := config.Load()
				if err != nil {
					return err
				}
				if secret == "" {
					secret = cfg.Auth.JWTSecret
				}
				if ttl <= 0 {
					ttl = cfg.Auth.AccessTokenTTLMinutes
				}
			}
			actor := domain.Actor{
				ID:        subjectID,
				Type:      domain.SubjectType(strings.ToUpper(subject)),
				Role:      domain.Role(strings.ToUpper(role)),
				CompanyID: companyID,
			}
			if actor.Type == domain.SubjectTypeCompanyUser && actor.CompanyID == "" {
				return fmt.Errorf("--company is required for %s tokens", domain.SubjectTypeCompanyUser)
			}
			token, _, err := auth.NewTokenManager(secret, ttl).GenerateToken(actor)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&subjectID, "id", "", "subject id")
	cmd.Flags().StringVar(&subject, "subject", string(domain.SubjectTypeStaff), "COMPANY_USER or STAFF")
	cmd.Flags().StringVar(&role, "role", string(domain.RoleClerk), "role claim")
	cmd.Flags().StringVar(&companyID, "company", "", "company id for COMPANY_USER tokens")
	cmd.Flags().StringVar(&secret, "secret", "", "signing secret (defaults to AUTH_JWT_SECRET)")
	cmd.Flags().IntVar(&ttl, "ttl", 0, "lifetime in minutes (defaults to AUTH_ACCESS_TOKEN_TTL_MINUTES)")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}
