package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/example/advisory-booking/internal/config"
	"github.com/example/advisory-booking/internal/token"
)

func newLinkCmd() *cobra.Command {
	var (
		claims token.Claims
		ttl    time.Duration
	)

	c := &cobra.Command{
		Use:   "link",
		Short: "Issue a booking link for a lead",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.FromEnv()
			if err != nil {
				return err
			}
			codec, err := token.NewCodec(cfg.TokenSecret, cfg.TokenEncrypt)
			if err != nil {
				return err
			}
			if ttl <= 0 {
				ttl = cfg.TokenTTL
			}

			tok, issued, err := codec.Issue(claims, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token.LinkURL(cfg.BaseURL, tok))
			fmt.Fprintf(cmd.ErrOrStderr(), "lead=%s expires=%s\n", issued.LeadID, issued.Expiry().UTC().Format(time.RFC3339))
			return nil
		},
	}

	c.Flags().StringVar(&claims.LeadID, "lead-id", "", "CRM lead id")
	c.Flags().StringVar(&claims.Email, "email", "", "lead email")
	c.Flags().StringVar(&claims.Name, "name", "", "lead name")
	c.Flags().StringVar(&claims.Phone, "phone", "", "lead phone")
	c.Flags().StringVar(&claims.Company, "company", "", "lead company")
	c.Flags().DurationVar(&ttl, "ttl", 0, "link lifetime (default TOKEN_TTL)")

	_ = c.MarkFlagRequired("lead-id")
	_ = c.MarkFlagRequired("email")
	return c
}
