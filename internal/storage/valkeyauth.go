package storage

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/chinmina/iamcacheauth"
	"github.com/groupbuy/groupbuy-client/internal/config"
	"github.com/valkey-io/valkey-go"
)

// credentialsFunc supplies credentials each time a Valkey connection is
// opened.
type credentialsFunc = func(valkey.AuthCredentialsContext) (valkey.AuthCredentials, error)

// awsConfigLoader resolves AWS credentials for IAM authentication.
type awsConfigLoader func(context.Context) (aws.Config, error)

func loadDefaultAWSConfig(ctx context.Context) (aws.Config, error) {
	return awsconfig.LoadDefaultConfig(ctx)
}

// valkeyAuth returns the credentials source for cfg: short-lived ElastiCache
// IAM tokens when IAM is enabled, otherwise the configured username and
// password. loadAWS is only called for IAM.
func valkeyAuth(ctx context.Context, cfg config.ValkeyConfig, loadAWS awsConfigLoader) (credentialsFunc, error) {
	if !cfg.IAMEnabled {
		creds := valkey.AuthCredentials{Username: cfg.Username, Password: cfg.Password}
		return func(valkey.AuthCredentialsContext) (valkey.AuthCredentials, error) {
			return creds, nil
		}, nil
	}

	awsCfg, err := loadAWS(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config for IAM auth: %w", err)
	}

	var opts []iamcacheauth.Option
	if cfg.IAMServerless {
		opts = append(opts, iamcacheauth.WithServerless())
	}

	gen, err := iamcacheauth.NewElastiCache(cfg.Username, cfg.IAMCacheName, awsCfg, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating IAM token generator: %w", err)
	}

	return func(valkey.AuthCredentialsContext) (valkey.AuthCredentials, error) {
		// signing is local; the context only bounds AWS credential retrieval
		token, err := gen.Token(context.Background())
		if err != nil {
			return valkey.AuthCredentials{}, fmt.Errorf("generating IAM auth token: %w", err)
		}
		return valkey.AuthCredentials{Username: cfg.Username, Password: token}, nil
	}, nil
}
