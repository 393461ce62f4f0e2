package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"github.com/michaelpento.lv/polyarb/cmd/bot"
	umath "github.com/michaelpento.lv/polyarb/utils/math"
)

var (
	quoteFrom   string
	quoteTo     string
	quoteAmount string
)

var quoteCmd = &cobra.Command{
	Use:   "quote",
	Short: "Print every venue's quote for one hop and the aggregator's pick",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := loadConfig()
		if err != nil {
			return err
		}
		ctx := cmd.Context()

		c, err := bot.Build(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer c.Close(log)

		from, err := c.Tokens.BySymbol(quoteFrom)
		if err != nil {
			return err
		}
		to, err := c.Tokens.BySymbol(quoteTo)
		if err != nil {
			return err
		}
		amountIn, err := umath.ToWei(quoteAmount, from.Decimals)
		if err != nil {
			return fmt.Errorf("invalid amount %q: %w", quoteAmount, err)
		}
		path := []common.Address{from.Address, to.Address}

		results, err := c.Aggregator.QuoteAll(ctx, path, amountIn)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%s %s -> %s\n\n", quoteAmount, from.Symbol, to.Symbol)
		w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "VENUE\tKIND\tAMOUNT OUT\tLATENCY\tSTATUS")
		for _, r := range results {
			status := "ok"
			switch {
			case r.Rejected != "":
				status = "rejected: " + r.Rejected
			case r.Quote.IsZero():
				status = "no quote: " + r.Quote.Reason
			}
			amount := "-"
			if !r.Quote.IsZero() {
				amount = umath.FromWei(r.Quote.AmountOut, to.Decimals).String()
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", r.Venue, r.Kind, amount, r.Latency.Round(1e6), status)
		}
		if err := w.Flush(); err != nil {
			return err
		}

		best := c.Aggregator.GetBestQuote(ctx, path, amountIn)
		if best.IsZero() {
			fmt.Fprintf(out, "\nbest: %s (%s)\n", best.Venue, best.Reason)
			return nil
		}
		fmt.Fprintf(out, "\nbest: %s %s %s\n", best.Venue, umath.FromWei(best.AmountOut, to.Decimals), to.Symbol)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(quoteCmd)
	quoteCmd.Flags().StringVar(&quoteFrom, "from", "", "input token symbol")
	quoteCmd.Flags().StringVar(&quoteTo, "to", "", "output token symbol")
	quoteCmd.Flags().StringVar(&quoteAmount, "amount", "1", "input amount in whole units")
	_ = quoteCmd.MarkFlagRequired("from")
	_ = quoteCmd.MarkFlagRequired("to")
}
