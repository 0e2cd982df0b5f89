package auth

import (
	"context"
	"errors"
	"log/slog"

	"github.com/aws/aws-lambda-go/events"
)

const (
	policyVersion   = "2012-10-17"
	invokeAction    = "execute-api:Invoke"
	deniedPrincipal = "user"
)

// Authorize evaluates an API Gateway TOKEN authorizer request. A verified
// token yields an Allow policy for its subject; anything else yields Deny.
func Authorize(ctx context.Context, v TokenVerifier, req events.APIGatewayCustomAuthorizerRequest, logger *slog.Logger) events.APIGatewayCustomAuthorizerResponse {
	id, err := v.Verify(ctx, req.AuthorizationToken)
	if err != nil {
		if errors.Is(err, ErrKeySetUnavailable) {
			logger.ErrorContext(ctx, "cannot authorize, key set unavailable", "error", err, "method_arn", req.MethodArn)
		} else {
			logger.WarnContext(ctx, "user not authorized", "error", err, "method_arn", req.MethodArn)
		}
		return policy(deniedPrincipal, "Deny")
	}

	logger.InfoContext(ctx, "user authorized", "sub", id.Subject)
	resp := policy(id.Subject, "Allow")
	resp.Context = map[string]any{"sub": id.Subject}
	return resp
}

func policy(principal, effect string) events.APIGatewayCustomAuthorizerResponse {
	return events.APIGatewayCustomAuthorizerResponse{
		PrincipalID: principal,
		PolicyDocument: events.APIGatewayCustomAuthorizerPolicy{
			Version: policyVersion,
			Statement: []events.IAMPolicyStatement{{
				Action:   []string{invokeAction},
				Effect:   effect,
				Resource: []string{"*"},
			}},
		},
	}
}
