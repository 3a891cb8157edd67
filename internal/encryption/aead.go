package encryption

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/tink-crypto/tink-go-awskms/v3/integration/awskms"
	"github.com/tink-crypto/tink-go/v2/aead"
	"github.com/tink-crypto/tink-go/v2/insecurecleartextkeyset"
	"github.com/tink-crypto/tink-go/v2/keyset"
	"github.com/tink-crypto/tink-go/v2/tink"
)

const secretsManagerPrefix = "aws-secretsmanager://"

// KMSAPI is the subset of the KMS client used to unwrap an encrypted keyset.
type KMSAPI interface {
	Encrypt(ctx context.Context, params *kms.EncryptInput, optFns ...func(*kms.Options)) (*kms.EncryptOutput, error)
	Decrypt(ctx context.Context, params *kms.DecryptInput, optFns ...func(*kms.Options)) (*kms.DecryptOutput, error)
}

// SecretsManagerAPI is the subset of the Secrets Manager client used to fetch
// a keyset.
type SecretsManagerAPI interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

type awsOptions struct {
	kms KMSAPI
	sm  SecretsManagerAPI
}

// AWSOption overrides the AWS clients used by LoadKeysetFromAWS.
type AWSOption func(*awsOptions)

func WithKMSClient(c KMSAPI) AWSOption {
	return func(o *awsOptions) { o.kms = c }
}

func WithSecretsManagerClient(c SecretsManagerAPI) AWSOption {
	return func(o *awsOptions) { o.sm = c }
}

// Validate performs a test encryption/decryption cycle to verify the AEAD is
// working. Call this at startup to fail fast if encryption is misconfigured.
func Validate(a tink.AEAD) error {
	testPlaintext := []byte("groupbuy-storage-encryption-test")
	testAAD := []byte("validation")

	ciphertext, err := a.Encrypt(testPlaintext, testAAD)
	if err != nil {
		return fmt.Errorf("validation encrypt failed: %w", err)
	}

	decrypted, err := a.Decrypt(ciphertext, testAAD)
	if err != nil {
		return fmt.Errorf("validation decrypt failed: %w", err)
	}

	if !bytes.Equal(testPlaintext, decrypted) {
		return fmt.Errorf("validation round-trip failed: plaintext mismatch")
	}

	return nil
}

// NewAEAD builds and validates an AEAD primitive from a keyset handle.
func NewAEAD(handle *keyset.Handle) (tink.AEAD, error) {
	if handle == nil {
		return nil, fmt.Errorf("creating AEAD primitive: nil keyset handle")
	}

	primitive, err := aead.New(handle)
	if err != nil {
		return nil, fmt.Errorf("creating AEAD primitive: %w", err)
	}

	if err := Validate(primitive); err != nil {
		return nil, fmt.Errorf("validating AEAD: %w", err)
	}

	return primitive, nil
}

// LoadKeysetFromFile reads a cleartext JSON keyset from disk. Intended for
// developer machines; deployments should use LoadKeysetFromAWS so key
// material is never stored unwrapped.
func LoadKeysetFromFile(path string) (*keyset.Handle, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening keyset file: %w", err)
	}
	defer f.Close()

	handle, err := insecurecleartextkeyset.Read(keyset.NewJSONReader(f))
	if err != nil {
		return nil, fmt.Errorf("reading keyset file %q: %w", path, err)
	}

	return handle, nil
}

// LoadKeysetFromAWS reads a keyset stored in AWS Secrets Manager, encrypted
// with an AWS KMS key. KMS is only used to unwrap the keyset; all subsequent
// encrypt/decrypt operations are local.
//
// keysetURI format: aws-secretsmanager://secret-name
// kmsEnvelopeKeyURI format: aws-kms://arn:aws:kms:region:account:key/key-id
func LoadKeysetFromAWS(ctx context.Context, keysetURI, kmsEnvelopeKeyURI string, opts ...AWSOption) (*keyset.Handle, error) {
	var o awsOptions
	for _, opt := range opts {
		opt(&o)
	}

	if o.kms == nil || o.sm == nil {
		cfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("loading AWS config: %w", err)
		}
		o.fillDefaults(cfg)
	}

	kmsAEAD, err := awskms.NewAEADWithContext(kmsEnvelopeKeyURI, awskms.WithKMS(o.kms))
	if err != nil {
		return nil, fmt.Errorf("creating KMS AEAD: %w", err)
	}

	reader, err := readKeysetFromSecretsManager(ctx, keysetURI, o.sm)
	if err != nil {
		return nil, fmt.Errorf("reading keyset: %w", err)
	}

	handle, err := keyset.ReadWithContext(ctx, reader, kmsAEAD, nil)
	if err != nil {
		return nil, fmt.Errorf("decrypting keyset: %w", err)
	}

	return handle, nil
}

func (o *awsOptions) fillDefaults(cfg aws.Config) {
	if o.kms == nil {
		o.kms = kms.NewFromConfig(cfg)
	}
	if o.sm == nil {
		o.sm = secretsmanager.NewFromConfig(cfg)
	}
}

// NewAEADFromKMS loads the keyset from AWS and returns a validated AEAD.
func NewAEADFromKMS(ctx context.Context, keysetURI, kmsEnvelopeKeyURI string, opts ...AWSOption) (tink.AEAD, error) {
	handle, err := LoadKeysetFromAWS(ctx, keysetURI, kmsEnvelopeKeyURI, opts...)
	if err != nil {
		return nil, err
	}
	return NewAEAD(handle)
}

// NewAEADFromFile loads a cleartext keyset file and returns a validated AEAD.
func NewAEADFromFile(path string) (tink.AEAD, error) {
	handle, err := LoadKeysetFromFile(path)
	if err != nil {
		return nil, err
	}
	return NewAEAD(handle)
}

func readKeysetFromSecretsManager(ctx context.Context, uri string, client SecretsManagerAPI) (*keyset.JSONReader, error) {
	if !strings.HasPrefix(uri, secretsManagerPrefix) {
		return nil, fmt.Errorf("invalid secrets manager URI %q: must start with %s", uri, secretsManagerPrefix)
	}

	secretName := strings.TrimPrefix(uri, secretsManagerPrefix)
	if secretName == "" {
		return nil, fmt.Errorf("invalid secrets manager URI %q: secret name is empty", uri)
	}

	result, err := client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: &secretName,
	})
	if err != nil {
		return nil, fmt.Errorf("getting secret %q: %w", secretName, err)
	}

	if result.SecretString == nil {
		return nil, fmt.Errorf("secret %q has no string value", secretName)
	}

	return keyset.NewJSONReader(strings.NewReader(*result.SecretString)), nil
}

// NewTestAEAD creates a tink.AEAD for tests. Keys are neither persisted nor
// protected.
func NewTestAEAD() (tink.AEAD, error) {
	handle, err := keyset.NewHandle(aead.AES256GCMKeyTemplate())
	if err != nil {
		return nil, fmt.Errorf("creating test keyset handle: %w", err)
	}
	primitive, err := aead.New(handle)
	if err != nil {
		return nil, fmt.Errorf("creating test AEAD primitive: %w", err)
	}
	return primitive, nil
}
