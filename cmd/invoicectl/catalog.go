package main

import (
	"fmt"
	"os"

	"github.com/mmdatafocus/purchase_backend/models"
	"github.com/spf13/cobra"
)

var importCatalogCmd = &cobra.Command{
	Use:   "import-catalog [file.xlsx]",
	Short: "Upsert catalog products by sku from an xlsx sheet",
	Long: `The first sheet needs a header row. Recognized columns: sku, barcode,
name, brand, potency, hsn code, tax rate, mrp, purchase price. Only name is
required.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()
		db, err := openDB(cmd)
		if err != nil {
			return err
		}
		summary, err := models.ImportProductsFromXlsx(cmd.Context(), db, f)
		if err != nil {
			return err
		}
		if wantJSON(cmd) {
			return writeJSON(cmd.OutOrStdout(), summary)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "created=%d updated=%d skipped=%d\n", summary.Created, summary.Updated, len(summary.Skipped))
		for _, s := range summary.Skipped {
			fmt.Fprintln(cmd.OutOrStdout(), "  skipped:", s)
		}
		return nil
	},
}

var exportReceiptCmd = &cobra.Command{
	Use:   "export-receipt [invoice-id]",
	Short: "Write the goods received note of a confirmed invoice to xlsx",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB(cmd)
		if err != nil {
			return err
		}
		receipt, err := models.GetPurchaseReceiptByInvoice(cmd.Context(), db, args[0])
		if err != nil {
			return err
		}
		f, err := models.ExportPurchaseReceiptXlsx(receipt)
		if err != nil {
			return err
		}
		defer f.Close()
		out, _ := cmd.Flags().GetString("output")
		if out == "" {
			out = "grn-" + receipt.ID + ".xlsx"
		}
		if err := f.SaveAs(out); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), out)
		return nil
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB(cmd)
		if err != nil {
			return err
		}
		if err := models.Migrate(db); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "schema is up to date")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(importCatalogCmd, exportReceiptCmd, migrateCmd)
	exportReceiptCmd.Flags().StringP("output", "o", "", "Output file (default: grn-<receipt id>.xlsx)")
}
