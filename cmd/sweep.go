package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/6587027/VipStore-sub001/models"
	"github.com/6587027/VipStore-sub001/services"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Delete expired messages and retire expired rooms once",
	RunE:  runSweep,
}

func runSweep(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	db, err := models.OpenDatabase(cfg.Database.Driver, cfg.Database.DSN, logger)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}

	sweeper := services.NewSweeper(
		services.NewMessageService(db, cfg.Chat.MessageTTL.Duration),
		services.NewRoomService(db, cfg.Chat.RoomTTL.Duration),
		cfg.Chat.SweepInterval.Duration,
		logger,
	)
	res, err := sweeper.SweepOnce(cmd.Context())
	if err != nil {
		return fmt.Errorf("sweep: %w", err)
	}
	logger.Info().Int64("messages", res.Messages).Int64("rooms", res.Rooms).Msg("sweep finished")
	return nil
}
