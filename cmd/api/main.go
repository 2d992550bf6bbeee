package main

import (
	"log"
	"os"

	"github.com/sapling/core/cmd/api/commands"
)

// @title Sapling API
// @version 1.0
// @description Recurring tasks, credits and virtual trees

// @host localhost:8080
// @BasePath /api/v1

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description Type "Bearer" followed by a space and JWT token.

func main() {
	if err := commands.NewRootCommand().Execute(); err != nil {
		log.Printf("Command execution failed: %v", err)
		os.Exit(1)
	}
}
