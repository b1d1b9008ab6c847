package main

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/stuartcarnie/djdeploy/cmd/djdeploy/djdeploycmd"
)

func init() {
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = djdeploycmd.LogLevel
	cfg.Encoding = "console"
	cfg.DisableStacktrace = true
	cfg.EncoderConfig.CallerKey = ""
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	if os.Getenv("NO_COLOR") != "" {
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	}
	log, err := cfg.Build()
	if err != nil {
		panic(err)
	}
	zap.ReplaceGlobals(log)
}

func main() {
	os.Exit(djdeploycmd.Main())
}
