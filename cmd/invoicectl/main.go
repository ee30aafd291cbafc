// Command invoicectl runs purchase-invoice maintenance tasks outside the
// API server: offline parsing, outbox operations, expiry reports, catalog
// import and schema migration.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/mmdatafocus/purchase_backend/config"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

var version = "1.0.0"

var rootCmd = &cobra.Command{
	Use:          "invoicectl",
	Short:        "Maintenance CLI for the purchase invoice service",
	Version:      version,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().String("dsn", "", "MySQL DSN (default: built from DB_* env)")
	rootCmd.PersistentFlags().Bool("json", false, "Output as JSON")
}

// openDB connects with --dsn when given, otherwise from DB_* env with retry.
func openDB(cmd *cobra.Command) (*gorm.DB, error) {
	dsn, _ := cmd.Flags().GetString("dsn")
	if strings.TrimSpace(dsn) != "" {
		conn, err := config.ConnectDatabase(dsn)
		if err != nil {
			return nil, fmt.Errorf("connect database: %w", err)
		}
		config.SetDB(conn)
		return conn, nil
	}
	config.ConnectDatabaseWithRetry()
	if config.GetDB() == nil {
		return nil, fmt.Errorf("database not initialized")
	}
	return config.GetDB(), nil
}

func logger() *logrus.Logger {
	return config.GetLogger()
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		logger().WithFields(logrus.Fields{"field": "invoicectl"}).Error(err.Error())
		fmt.Fprintf(os.Stderr, "Error executing command: %v\n", err)
		stop()
		os.Exit(1)
	}
}
