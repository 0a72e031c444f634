package env

import (
	"fmt"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Environment holds all configuration read from the process environment.
type Environment struct {
	BotToken          string `env:"BOT_TOKEN,required"`
	GoogleCredentials string `env:"GOOGLE_CREDENTIALS"`
	SpreadsheetID     string `env:"SPREADSHEET_ID"`
	LocalDBPath       string `env:"LOCAL_DB_PATH" envDefault:"gatekeeper.db"`
	DebugMode         bool   `env:"DEBUG_MODE" envDefault:"false"`
}

// Value is the loaded environment, populated by LoadEnv.
var Value Environment

// LoadEnv reads an optional .env file and parses the environment into Value.
// A missing .env file is not an error; missing required variables are.
func LoadEnv() error {
	_ = godotenv.Load()

	if err := env.Parse(&Value); err != nil {
		return fmt.Errorf("failed to parse environment: %w", err)
	}

	// Both unset means there is nowhere to persist state.
	if Value.SpreadsheetID == "" && Value.LocalDBPath == "" {
		return fmt.Errorf("either SPREADSHEET_ID or LOCAL_DB_PATH must be set")
	}

	return nil
}

// UseSheets reports whether the Google Sheets backing store is configured.
func UseSheets() bool {
	return Value.SpreadsheetID != "" && Value.GoogleCredentials != ""
}
