package main

import (
	"net/http"
	"os"
	"time"

	"github.com/fiffu/pushpanel/app"
	"github.com/fiffu/pushpanel/config"
	"github.com/fiffu/pushpanel/lib"
	"github.com/fiffu/pushpanel/onesignal"
	"github.com/fiffu/pushpanel/senders"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func NewLogger() (*zap.Logger, error) {
	switch os.Getenv("ENVIRONMENT") {
	default:
		return zap.NewDevelopment()

	case "production":
		logCfg := zap.NewProductionConfig()
		logCfg.EncoderConfig.EncodeTime = func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
			t = t.UTC()
			zapcore.ISO8601TimeEncoder(t, enc)
		}
		return logCfg.Build()
	}
}

func main() {
	fx.New(
		fx.Provide(config.NewConfig),
		fx.Provide(NewLogger),

		fx.Provide(app.NewDatabase),
		fx.Provide(app.NewTransport),
		fx.Provide(onesignal.NewClient),
		fx.Provide(senders.NewSenderRegistry),
		fx.Provide(lib.NewSyncGuard),
		fx.Provide(lib.NewService),
		fx.Provide(app.NewAPI),

		fx.Invoke(func(*http.Server) {}),
	).Run()
}
