package database

import (
	"fmt"

	"attendance.bridge/internal/config"
)

// DSN builds a pgx connection string from config.
func DSN(cfg config.DBConfig) string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		cfg.Host,
		cfg.Port,
		cfg.User,
		cfg.Password,
		cfg.Name,
	)
}
