package collab

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sts"

	"github.com/flightdeck/flightdeck/internal/interfaces"
)

// STSChecker verifies cloud credentials with an STS caller-identity
// lookup
type STSChecker struct {
	client *sts.Client
}

// STSCheckerConfig holds the configuration for STSChecker
type STSCheckerConfig struct {
	Region   string `json:"region"`
	Endpoint string `json:"endpoint,omitempty"` // For LocalStack or custom endpoints
}

// NewSTSChecker creates an STS-backed credential checker
func NewSTSChecker(ctx context.Context, cfg STSCheckerConfig) (*STSChecker, error) {
	loadOpts := []func(*config.LoadOptions) error{}
	if cfg.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(cfg.Region))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var client *sts.Client
	if cfg.Endpoint != "" {
		client = sts.NewFromConfig(awsCfg, func(o *sts.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	} else {
		client = sts.NewFromConfig(awsCfg)
	}

	return &STSChecker{client: client}, nil
}

// WhoAmI returns the identity behind the active credentials
func (c *STSChecker) WhoAmI(ctx context.Context) (*interfaces.Identity, error) {
	out, err := c.client.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return nil, fmt.Errorf("credentials not usable: %w", err)
	}
	return &interfaces.Identity{
		Account: aws.ToString(out.Account),
		ARN:     aws.ToString(out.Arn),
		UserID:  aws.ToString(out.UserId),
	}, nil
}

// Ensure STSChecker implements the credential contract
var _ interfaces.CredentialChecker = (*STSChecker)(nil)
