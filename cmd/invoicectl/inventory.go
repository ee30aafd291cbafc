package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/mmdatafocus/purchase_backend/models"
	"github.com/spf13/cobra"
)

var expiringCmd = &cobra.Command{
	Use:   "expiring",
	Short: "List batches with stock already expired or expiring within --days",
	RunE: func(cmd *cobra.Command, args []string) error {
		shopId, _ := cmd.Flags().GetInt("shop-id")
		if shopId <= 0 {
			return fmt.Errorf("--shop-id is required")
		}
		days, _ := cmd.Flags().GetInt("days")
		db, err := openDB(cmd)
		if err != nil {
			return err
		}
		batches, err := models.ExpiringBatches(cmd.Context(), db, shopId, days, time.Now().UTC())
		if err != nil {
			return err
		}
		if wantJSON(cmd) {
			return writeJSON(cmd.OutOrStdout(), batches)
		}
		rows := make([][]string, 0, len(batches))
		for _, b := range batches {
			rows = append(rows, []string{
				strconv.Itoa(b.ProductId), b.BatchNo, b.ExpiryDate.Format("2006-01-02"),
				strconv.Itoa(b.DaysToExpiry), b.Quantity.String(), b.Available.String(),
			})
		}
		return writeTable(cmd.OutOrStdout(), []string{"PRODUCT", "BATCH", "EXPIRY", "DAYS", "QTY", "AVAILABLE"}, rows)
	},
}

func init() {
	rootCmd.AddCommand(expiringCmd)
	expiringCmd.Flags().Int("shop-id", 0, "Shop to report on")
	expiringCmd.Flags().Int("days", 30, "Look-ahead window in days")
}
