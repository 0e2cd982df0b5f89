package app

import (
	"context"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/ssm"

	"github.com/jun/memories/internal/auth"
	"github.com/jun/memories/internal/blob"
	"github.com/jun/memories/internal/config"
	"github.com/jun/memories/internal/crypto"
	"github.com/jun/memories/internal/handler"
	"github.com/jun/memories/internal/logging"
	"github.com/jun/memories/internal/memories"
	"github.com/jun/memories/internal/secret"
	"github.com/jun/memories/internal/store"
	"github.com/jun/memories/internal/store/dynamo"
	"github.com/jun/memories/internal/store/memory"
)

const (
	cursorPurpose      = "memories-cursor"
	originVerifyHeader = "X-Origin-Verify"
)

// Options are the request-level settings of App.
type Options struct {
	DevMode bool
	// OriginSecret is the value CloudFront sends in X-Origin-Verify. Empty
	// disables the check.
	OriginSecret   string
	FrontendURL    string
	RequestTimeout time.Duration
}

// App holds the dependencies for the Lambda function.
type App struct {
	memoryHandler *handler.MemoryHandler
	logger        *slog.Logger
	opts          Options
}

// New creates an App around an already wired handler.
func New(memoryHandler *handler.MemoryHandler, logger *slog.Logger, opts Options) *App {
	if opts.FrontendURL == "" {
		opts.FrontendURL = "http://localhost:3000"
	}
	return &App{memoryHandler: memoryHandler, logger: logger, opts: opts}
}

// Build wires the AWS clients and services described by cfg.
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRetryMaxAttempts(cfg.RetryMaxAttempts))
	if err != nil {
		return nil, fmt.Errorf("unable to load SDK config: %w", err)
	}

	var resolver secret.Resolver
	if cfg.DevMode {
		resolver = secret.NewEnvResolver()
		logger.Info("using EnvResolver (DEV_MODE=true)")
	} else {
		resolver = secret.NewSSMResolver(ssm.NewFromConfig(awsCfg))
	}
	originSecret := ""
	if !cfg.DevMode {
		originSecret = secret.Optional(ctx, resolver, cfg.OriginVerifySecretParam, logger)
		if originSecret == "" {
			logger.Warn("origin verification disabled, no secret configured")
		}
	}

	var enc crypto.Encryptor
	if cfg.DevMode {
		enc = crypto.NewMockEncryptor()
		logger.Info("using MockEncryptor for cursors (DEV_MODE=true)")
	} else {
		enc = crypto.NewKMSService(kms.NewFromConfig(awsCfg), cfg.KMSKeyID, cursorPurpose)
	}
	cursors := store.NewCursorCodec(enc)

	var st store.Store
	if cfg.DevMode && cfg.InMemoryStore {
		st = memory.New(cursors)
		logger.Info("using in-memory record store (DEV_MODE=true)")
	} else {
		client := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
			if cfg.DynamoEndpoint != "" {
				o.BaseEndpoint = aws.String(cfg.DynamoEndpoint)
			}
		})
		st = dynamo.New(client, cfg.MemoriesTable, cfg.UserIDIndex, cursors, logging.Component(logger, "store"))
	}

	signer := blob.NewS3Signer(blob.NewPresignClient(awsCfg, cfg.S3Endpoint), cfg.AttachmentsBucket, cfg.SignedURLExpiration)

	svc := memories.NewService(NewVerifier(cfg, logger), st, signer, logging.Component(logger, "memories"))
	h := handler.NewMemoryHandler(svc, logging.Component(logger, "handler"))

	return New(h, logger, Options{
		DevMode:        cfg.DevMode,
		OriginSecret:   originSecret,
		FrontendURL:    cfg.FrontendURL,
		RequestTimeout: cfg.RequestTimeout,
	}), nil
}

// NewVerifier builds the JWKS-backed token verifier shared by the API and
// the authorizer.
func NewVerifier(cfg *config.Config, logger *slog.Logger) *auth.Verifier {
	if cfg.JWKSURL == "" {
		logger.Warn("JWKS_URL is not set, every token will be rejected")
	}
	fetcher := auth.NewHTTPKeySetFetcher(&http.Client{}, cfg.JWKSURL, auth.FetchOptions{Timeout: cfg.JWKSTimeout})
	cache := auth.NewKeySetCache(fetcher, cfg.JWKSCacheTTL, cfg.JWKSMinRefresh, logging.Component(logger, "jwks"))
	return auth.NewVerifier(cache, auth.VerifierOptions{
		Issuer:   cfg.TokenIssuer,
		Audience: cfg.TokenAudience,
		Leeway:   cfg.TokenClockSkew,
	})
}

// HandleRequest routes API Gateway requests to the appropriate handler.
func (app *App) HandleRequest(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	if app.opts.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, app.opts.RequestTimeout)
		defer cancel()
	}

	path := req.Path
	method := req.HTTPMethod
	app.logger.DebugContext(ctx, "request", "method", method, "path", path)

	// CORS Preflight
	if method == http.MethodOptions {
		return app.corsResponse(events.APIGatewayProxyResponse{StatusCode: http.StatusNoContent}), nil
	}

	// Requests must come through CloudFront, which adds the shared secret.
	if !app.opts.DevMode && app.opts.OriginSecret != "" {
		got := handler.Header(req, originVerifyHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(app.opts.OriginSecret)) != 1 {
			app.logger.WarnContext(ctx, "blocked request without valid origin header", "path", path)
			return handler.ErrorResponse(http.StatusForbidden, "forbidden"), nil
		}
	}

	// Strip /api prefix if present (for CloudFront proxying)
	if rest, ok := strings.CutPrefix(path, "/api"); ok && (rest == "" || strings.HasPrefix(rest, "/")) {
		path = rest
	}

	if req.PathParameters == nil {
		req.PathParameters = make(map[string]string)
	}

	parts := strings.Split(strings.Trim(path, "/"), "/")
	if parts[0] == "memories" {
		h := app.memoryHandler
		switch {
		case len(parts) == 1 && method == http.MethodGet:
			return app.corsResponse(must(h.ListMemories(ctx, req))), nil
		case len(parts) == 1 && method == http.MethodPost:
			return app.corsResponse(must(h.CreateMemory(ctx, req))), nil
		case len(parts) == 2:
			req.PathParameters["id"] = parts[1]
			switch method {
			case http.MethodGet:
				return app.corsResponse(must(h.GetMemory(ctx, req))), nil
			case http.MethodPatch, http.MethodPut:
				return app.corsResponse(must(h.UpdateMemory(ctx, req))), nil
			case http.MethodDelete:
				return app.corsResponse(must(h.DeleteMemory(ctx, req))), nil
			}
		case len(parts) == 3 && parts[2] == "attachment" && method == http.MethodPost:
			req.PathParameters["id"] = parts[1]
			return app.corsResponse(must(h.CreateAttachmentURL(ctx, req))), nil
		}
	}

	return app.corsResponse(handler.ErrorResponse(http.StatusNotFound, "not found: "+method+" "+path)), nil
}

// corsResponse adds CORS headers to an API Gateway response.
func (app *App) corsResponse(resp events.APIGatewayProxyResponse) events.APIGatewayProxyResponse {
	if resp.Headers == nil {
		resp.Headers = make(map[string]string)
	}
	resp.Headers["Access-Control-Allow-Origin"] = app.opts.FrontendURL
	resp.Headers["Access-Control-Allow-Credentials"] = "true"
	resp.Headers["Access-Control-Allow-Methods"] = "GET,POST,PUT,PATCH,DELETE,OPTIONS"
	resp.Headers["Access-Control-Allow-Headers"] = "Content-Type,Authorization"
	return resp
}

// must unwraps a handler response, ignoring the error.
func must(resp events.APIGatewayProxyResponse, err error) events.APIGatewayProxyResponse {
	if err != nil {
		return handler.ErrorResponse(http.StatusInternalServerError, "internal error")
	}
	return resp
}
