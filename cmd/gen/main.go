package main

import (
	"TourCheckin/internal/repository"
	"TourCheckin/pkg/logger"
)

func main() {
	logger.Init()
	defer logger.Sync()

	repository.RunGenerate()
}
