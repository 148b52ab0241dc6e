package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"ticketflow/internal/automation"
	"ticketflow/internal/config"
	"ticketflow/internal/models"
	"ticketflow/internal/services"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var (
	cfgFile     string
	seedRules   string
	seedTickets []string
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the ticketflow schema",
	RunE:  migrate,
}

func main() {
	migrateCmd.Flags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ./config.yml)")
	migrateCmd.Flags().StringVar(&seedRules, "seed", "", "rules file to attach to --ticket after migrating")
	migrateCmd.Flags().StringSliceVar(&seedTickets, "ticket", nil, "ticket keys to seed (repeatable)")
	if err := migrateCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func migrate(cmd *cobra.Command, args []string) error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}
	config.BindEnv(viper.GetViper())
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("read config: %w", err)
		}
	}
	cfg := config.Load()
	if err := config.InitLogger(cfg); err != nil {
		return err
	}

	// 连接数据库
	dc := cfg.Database
	dsn := fmt.Sprintf(
		"host=%s user=%s password=%s dbname=%s port=%d sslmode=%s TimeZone=UTC",
		dc.Host, dc.User, dc.Password, dc.Name, dc.Port, dc.SSLMode,
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Info),
	})
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}

	logrus.Info("Starting database migration...")
	if err := db.AutoMigrate(models.All()...); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}

	// 候选查询：开启且有规则的工单，按最久未处理排序
	if err := db.Exec("CREATE INDEX IF NOT EXISTS idx_tickets_automation_candidates ON tickets(automation_enabled, automation_rule_count, updated_at)").Error; err != nil {
		return fmt.Errorf("create candidate index: %w", err)
	}
	if err := db.Exec("CREATE INDEX IF NOT EXISTS idx_automation_runs_ticket_created ON automation_runs(ticket_key, created_at)").Error; err != nil {
		return fmt.Errorf("create runs index: %w", err)
	}
	logrus.Info("Database migration completed successfully!")

	if seedRules == "" {
		return nil
	}
	return seed(cmd.Context(), db, seedRules, seedTickets)
}

func seed(ctx context.Context, db *gorm.DB, path string, tickets []string) error {
	if len(tickets) == 0 {
		return fmt.Errorf("--seed needs at least one --ticket")
	}
	set, err := automation.LoadRuleSet(path)
	if err != nil {
		return err
	}
	enabled := true
	if set.Enabled != nil {
		enabled = *set.Enabled
	}

	svc := services.NewTicketService(db, logrus.StandardLogger())
	for _, key := range tickets {
		key = strings.TrimSpace(key)
		if _, err := svc.Get(ctx, key); errors.Is(err, services.ErrTicketNotFound) {
			if _, err := svc.Upsert(ctx, &services.TicketUpsertRequest{Key: key}); err != nil {
				return err
			}
		}
		if _, err := svc.SetRules(ctx, key, enabled, set.Rules); err != nil {
			return err
		}
		logrus.WithFields(logrus.Fields{"ticket": key, "rules": len(set.Rules)}).Info("Seeded automation rules")
	}
	return nil
}
