package main

import (
	"os"

	"github.com/joho/godotenv"

	"github.com/ggonzalez94/yieldmove/internal/app"
)

func main() {
	// A missing .env is fine; the environment may already carry the keys.
	_ = godotenv.Load()
	runner := app.NewRunner()
	os.Exit(runner.Run(os.Args[1:]))
}
