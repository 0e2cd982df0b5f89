package main

import (
	"context"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"github.com/jun/memories/internal/app"
	"github.com/jun/memories/internal/auth"
	"github.com/jun/memories/internal/config"
	"github.com/jun/memories/internal/logging"
)

func main() {
	cfg := config.Load()
	logger := logging.New(cfg.LogLevel, cfg.DevMode)
	verifier := app.NewVerifier(cfg, logger)
	authLogger := logging.Component(logger, "authorizer")

	lambda.Start(func(ctx context.Context, req events.APIGatewayCustomAuthorizerRequest) (events.APIGatewayCustomAuthorizerResponse, error) {
		return auth.Authorize(ctx, verifier, req, authLogger), nil
	})
}
