package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/spf13/cobra"

	"github.com/michaelpento.lv/polyarb/tokens"
)

var tokensVerify bool

var tokensCmd = &cobra.Command{
	Use:   "tokens",
	Short: "List the token registry",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := loadConfig()
		if err != nil {
			return err
		}
		registry, err := tokens.NewRegistry(cfg.Tokens, log)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "SYMBOL\tADDRESS\tDECIMALS")
		for _, tok := range registry.Tokens() {
			fmt.Fprintf(w, "%s\t%s\t%d\n", tok.Symbol, tok.Address.Hex(), tok.Decimals)
		}
		if err := w.Flush(); err != nil {
			return err
		}
		if !tokensVerify {
			return nil
		}

		client, err := ethclient.DialContext(cmd.Context(), cfg.RPCEndpoint)
		if err != nil {
			return fmt.Errorf("failed to connect to %s: %w", cfg.RPCEndpoint, err)
		}
		defer client.Close()

		_, mismatches, err := registry.VerifyDecimals(cmd.Context(), client, log)
		if len(mismatches) == 0 && err == nil {
			fmt.Fprintf(out, "\nall %d tokens verified\n", registry.Len())
			return nil
		}
		fmt.Fprintln(out)
		for _, m := range mismatches {
			if m.CallErr != nil {
				fmt.Fprintf(out, "%s: %v\n", m.Token.Symbol, m.CallErr)
				continue
			}
			fmt.Fprintf(out, "%s: configured %d, on chain %d\n", m.Token.Symbol, m.Token.Decimals, m.OnChain)
		}
		if err != nil {
			return err
		}
		return fmt.Errorf("%d tokens failed verification", len(mismatches))
	},
}

func init() {
	rootCmd.AddCommand(tokensCmd)
	tokensCmd.Flags().BoolVar(&tokensVerify, "verify", false, "check decimals() on chain")
}
