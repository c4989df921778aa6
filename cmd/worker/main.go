package main

import (
	"context"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/rs/zerolog"

	"github.com/MedLarabi/compucar-sub005/internal/app"
	"github.com/MedLarabi/compucar-sub005/internal/aws"
	"github.com/MedLarabi/compucar-sub005/internal/config"
	"github.com/MedLarabi/compucar-sub005/internal/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		boot := zerolog.New(os.Stderr).With().Timestamp().Logger()
		boot.Fatal().Err(err).Msg("invalid configuration")
	}
	log := logger.New(cfg.LogLevel, cfg.ServiceName+"-worker")

	ctx := context.Background()
	clients, err := aws.NewAWSClients(ctx, cfg.AWSRegion, cfg.AWSEndpoint)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init aws clients")
	}
	a := app.Build(cfg, clients, log)
	p := newBatchProcessor(a.Processor, log)

	// RUN_LOCAL processes one body from LOCAL_SQS_BODY and exits.
	if cfg.RunLocal {
		body := os.Getenv("LOCAL_SQS_BODY")
		if body == "" {
			log.Fatal().Msg("LOCAL_SQS_BODY is required when RUN_LOCAL=true")
		}
		resp, _ := p.Handle(ctx, events.SQSEvent{Records: []events.SQSMessage{{MessageId: "local-1", Body: body}}})
		if a.CloudWatch != nil {
			_ = a.CloudWatch.Flush(ctx)
		}
		if len(resp.BatchItemFailures) > 0 {
			log.Fatal().Msg("local event failed")
		}
		return
	}

	lambda.Start(func(ctx context.Context, ev events.SQSEvent) (events.SQSEventResponse, error) {
		resp, err := p.Handle(ctx, ev)
		if a.CloudWatch != nil {
			if ferr := a.CloudWatch.Flush(ctx); ferr != nil {
				log.Warn().Err(ferr).Msg("metrics flush failed")
			}
		}
		return resp, err
	})
}
