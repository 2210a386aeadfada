package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	pickindex "github.com/ghyeongl/pickindex/sync"
)

var (
	tokenOps     []string
	tokenTTL     time.Duration
	tokenSubject string
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint an operator token for the control API",
	Long: `Token signs a bearer token with the configured secret. The token grants
only the listed operations, for example:

  pickindex token --ops batch-run,enqueue --ttl 24h
  pickindex token --ops '*'`,
	RunE: func(cmd *cobra.Command, args []string) error {
		secret := viper.GetString("secret")
		if secret == "" {
			return errors.New("no secret configured (set secret in the config or PICKINDEX_SECRET)")
		}
		if len(tokenOps) == 0 {
			return errors.New("at least one operation is required")
		}
		token, err := pickindex.NewAuthorizer(secret).Mint(tokenSubject, tokenOps, tokenTTL)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	tokenCmd.Flags().StringSliceVar(&tokenOps, "ops", nil, "operations to grant (comma separated, * for all)")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "token lifetime, 0 for no expiry")
	tokenCmd.Flags().StringVar(&tokenSubject, "subject", "operator", "token subject")
}
