package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"TourCheckin/config"
	"TourCheckin/pkg/logger"
	"TourCheckin/pkg/token"
)

// 本地联调用：按 JWT_SECRET 签发员工 token，生产环境由身份服务签发
func main() {
	staffID := flag.Int64("staff", 0, "staff id to embed in the token")
	role := flag.String("role", "guide", "staff role claim")
	flag.Parse()

	logger.Init()
	defer logger.Sync()

	if config.Cfg.IsProduction() {
		logger.Logger.Fatal("Refusing to issue staff tokens in production")
	}
	if *staffID <= 0 {
		logger.Logger.Fatal("Staff id must be positive", zap.Int64("staff_id", *staffID))
	}

	if err := token.Init(token.Options{
		Secret:  config.Cfg.JWTSecret,
		Timeout: time.Duration(config.Cfg.JWTExpireMinutes) * time.Minute,
	}); err != nil {
		logger.Logger.Fatal("Failed to initialize token package", zap.Error(err))
	}

	tokenString, expireAt, err := token.GenerateStaffToken(*staffID, *role)
	if err != nil {
		logger.Logger.Fatal("Failed to generate staff token", zap.Error(err))
	}

	logger.Logger.Info("Staff token issued",
		zap.Int64("staff_id", *staffID),
		zap.String("role", *role),
		zap.Time("expire_at", expireAt),
	)
	fmt.Fprintln(os.Stdout, tokenString)
}
