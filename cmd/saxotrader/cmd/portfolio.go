package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var portfolioCmd = &cobra.Command{
	Use:   "portfolio",
	Short: "List accounts, balances, positions and working orders",
	RunE:  runPortfolio,
}

func init() {
	rootCmd.AddCommand(portfolioCmd)
}

func runPortfolio(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	session, err := openSession(ctx, cfg)
	if err != nil {
		return err
	}
	api, err := openGateway(cfg, session)
	if err != nil {
		return err
	}

	accounts, err := api.Accounts(ctx)
	if err != nil {
		return err
	}
	fmt.Println("Accounts:")
	for _, a := range accounts {
		bal, err := api.Balances(ctx, a.AccountKey)
		if err != nil {
			return err
		}
		fmt.Printf("  %-12s %-4s cash %12.2f  total %12.2f  key %s\n",
			a.AccountID, bal.Currency, bal.CashBalance, bal.TotalValue, a.AccountKey)
	}

	positions, err := api.Positions(ctx)
	if err != nil {
		return err
	}
	fmt.Println("Positions:")
	for _, p := range positions {
		fmt.Printf("  %-12s uic %-8d %-10s amount %10.2f  open %10.4f\n",
			p.PositionBase.AccountID, p.PositionBase.Uic, p.PositionBase.AssetType,
			p.PositionBase.Amount, p.PositionBase.OpenPrice)
	}

	orders, err := api.Orders(ctx)
	if err != nil {
		return err
	}
	fmt.Println("Working orders:")
	for _, o := range orders {
		fmt.Printf("  %-12s %-4s %10.2f uic %-8d %-10s %s\n",
			o.OrderID, o.BuySell, o.Amount, o.Uic, o.OrderType, o.Status)
	}
	return nil
}
