// Command mailer drains queued access codes from Kafka and delivers them
// over SMTP. It runs next to the API when MAIL_DRIVER=kafka.
package main

import (
	"context"
	"os/signal"
	"syscall"

	"storefront-api/internal/client"
	"storefront-api/internal/config"
	"storefront-api/internal/notify"
	"storefront-api/internal/util"
)

func main() {
	cfg := config.LoadConfig()
	util.Init(cfg.Environment, cfg.Logging.Level, cfg.Logging.Format)
	defer util.Sync()

	mailer, err := notify.NewSMTPMailer(cfg.Mail)
	if err != nil {
		util.Fatal("smtp mailer unavailable", util.ErrorField(err))
	}

	consumer, err := client.NewKafkaConsumer(cfg, cfg.Kafka.NotificationTopic, cfg.Kafka.MailerGroupID)
	if err != nil {
		util.Fatal("kafka consumer unavailable", util.ErrorField(err))
	}
	defer func() {
		if err := consumer.Close(); err != nil {
			util.Error("close kafka consumer", util.ErrorField(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	util.Info("mailer started",
		util.String("topic", cfg.Kafka.NotificationTopic),
		util.String("group", cfg.Kafka.MailerGroupID),
	)
	if err := notify.NewRelay(consumer, mailer).Run(ctx); err != nil {
		util.Error("relay stopped", util.ErrorField(err))
	}
	util.Info("mailer stopped")
}
