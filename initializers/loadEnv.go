package initializers

import (
	"log"

	"github.com/joho/godotenv"
)

// LoadEnv reads .env into the process environment when present.
func LoadEnv() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file loaded, relying on process environment")
	}
}
