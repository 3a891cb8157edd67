package encryption

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/kms"
	kmstypes "github.com/aws/aws-sdk-go-v2/service/kms/types"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tink-crypto/tink-go-awskms/v3/integration/awskms"
	"github.com/tink-crypto/tink-go/v2/aead"
	"github.com/tink-crypto/tink-go/v2/insecurecleartextkeyset"
	"github.com/tink-crypto/tink-go/v2/keyset"
)

// fakeKMS is an identity KMS, enough to round-trip wrapped keysets.
type fakeKMS struct {
	decryptFn func(context.Context, *kms.DecryptInput, ...func(*kms.Options)) (*kms.DecryptOutput, error)
}

func (f *fakeKMS) Encrypt(_ context.Context, input *kms.EncryptInput, _ ...func(*kms.Options)) (*kms.EncryptOutput, error) {
	return &kms.EncryptOutput{
		CiphertextBlob:      input.Plaintext,
		KeyId:               input.KeyId,
		EncryptionAlgorithm: kmstypes.EncryptionAlgorithmSpecSymmetricDefault,
	}, nil
}

func (f *fakeKMS) Decrypt(ctx context.Context, input *kms.DecryptInput, opts ...func(*kms.Options)) (*kms.DecryptOutput, error) {
	if f.decryptFn != nil {
		return f.decryptFn(ctx, input, opts...)
	}
	return &kms.DecryptOutput{
		Plaintext:           input.CiphertextBlob,
		KeyId:               input.KeyId,
		EncryptionAlgorithm: kmstypes.EncryptionAlgorithmSpecSymmetricDefault,
	}, nil
}

type fakeSecretsManager struct {
	getSecretValueFn func(context.Context, *secretsmanager.GetSecretValueInput, ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

func (f *fakeSecretsManager) GetSecretValue(ctx context.Context, input *secretsmanager.GetSecretValueInput, opts ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
	return f.getSecretValueFn(ctx, input, opts...)
}

func secretValue(s *string) *fakeSecretsManager {
	return &fakeSecretsManager{
		getSecretValueFn: func(context.Context, *secretsmanager.GetSecretValueInput, ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
			return &secretsmanager.GetSecretValueOutput{SecretString: s}, nil
		},
	}
}

const testKMSKeyURI = "aws-kms://arn:aws:kms:ap-southeast-2:123456789012:key/test-key-id"

func encryptedKeysetJSON(t *testing.T, kmsClient KMSAPI) string {
	t.Helper()

	handle, err := keyset.NewHandle(aead.AES256GCMKeyTemplate())
	require.NoError(t, err)

	kmsAEAD, err := awskms.NewAEADWithContext(testKMSKeyURI, awskms.WithKMS(kmsClient))
	require.NoError(t, err)

	var buf bytes.Buffer
	err = handle.WriteWithContext(context.Background(), keyset.NewJSONWriter(&buf), kmsAEAD, nil)
	require.NoError(t, err)

	return buf.String()
}

func TestValidate(t *testing.T) {
	primitive, err := NewTestAEAD()
	require.NoError(t, err)
	assert.NoError(t, Validate(primitive))

	err = Validate(&failingAEAD{encryptErr: errors.New("encrypt broken")})
	assert.ErrorContains(t, err, "validation encrypt failed")

	err = Validate(&failingAEAD{decryptErr: errors.New("decrypt broken")})
	assert.ErrorContains(t, err, "validation decrypt failed")

	err = Validate(&mismatchAEAD{})
	assert.ErrorContains(t, err, "validation round-trip failed")
}

func TestNewAEAD_NilHandle(t *testing.T) {
	_, err := NewAEAD(nil)
	assert.ErrorContains(t, err, "creating AEAD primitive")
}

func TestNewAEADFromFile(t *testing.T) {
	handle, err := keyset.NewHandle(aead.AES256GCMKeyTemplate())
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "keyset.json")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, insecurecleartextkeyset.Write(handle, keyset.NewJSONWriter(f)))
	require.NoError(t, f.Close())

	primitive, err := NewAEADFromFile(path)
	require.NoError(t, err)

	ct, err := primitive.Encrypt([]byte("refresh-token"), []byte("auth:tokens"))
	require.NoError(t, err)

	// the same keyset loaded independently decrypts
	other, err := aead.New(handle)
	require.NoError(t, err)
	pt, err := other.Decrypt(ct, []byte("auth:tokens"))
	require.NoError(t, err)
	assert.Equal(t, "refresh-token", string(pt))
}

func TestNewAEADFromFile_Errors(t *testing.T) {
	_, err := NewAEADFromFile(filepath.Join(t.TempDir(), "missing.json"))
	assert.ErrorContains(t, err, "opening keyset file")

	path := filepath.Join(t.TempDir(), "garbage.json")
	require.NoError(t, os.WriteFile(path, []byte("not json"), 0o600))
	_, err = NewAEADFromFile(path)
	assert.ErrorContains(t, err, "reading keyset file")
}

func TestNewAEADFromKMS_HappyPath(t *testing.T) {
	kmsClient := &fakeKMS{}
	secret := encryptedKeysetJSON(t, kmsClient)

	primitive, err := NewAEADFromKMS(
		context.Background(),
		"aws-secretsmanager://groupbuy-keyset",
		testKMSKeyURI,
		WithKMSClient(kmsClient),
		WithSecretsManagerClient(secretValue(&secret)),
	)
	require.NoError(t, err)
	assert.NoError(t, Validate(primitive))
}

func TestLoadKeysetFromAWS_Failures(t *testing.T) {
	garbage := "not valid json"

	tests := []struct {
		name        string
		keysetURI   string
		kmsURI      string
		kms         KMSAPI
		sm          SecretsManagerAPI
		errContains []string
	}{
		{
			name:      "secrets manager error",
			keysetURI: "aws-secretsmanager://groupbuy-keyset",
			kmsURI:    testKMSKeyURI,
			kms:       &fakeKMS{},
			sm: &fakeSecretsManager{
				getSecretValueFn: func(context.Context, *secretsmanager.GetSecretValueInput, ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
					return nil, errors.New("access denied")
				},
			},
			errContains: []string{"reading keyset", "access denied"},
		},
		{
			name:        "nil secret string",
			keysetURI:   "aws-secretsmanager://groupbuy-keyset",
			kmsURI:      testKMSKeyURI,
			kms:         &fakeKMS{},
			sm:          secretValue(nil),
			errContains: []string{"has no string value"},
		},
		{
			name:        "invalid keyset json",
			keysetURI:   "aws-secretsmanager://groupbuy-keyset",
			kmsURI:      testKMSKeyURI,
			kms:         &fakeKMS{},
			sm:          secretValue(&garbage),
			errContains: []string{"decrypting keyset"},
		},
		{
			name:        "invalid secrets manager uri",
			keysetURI:   "https://not-a-sm-uri",
			kmsURI:      testKMSKeyURI,
			kms:         &fakeKMS{},
			sm:          &fakeSecretsManager{},
			errContains: []string{"must start with aws-secretsmanager://"},
		},
		{
			name:        "invalid kms uri",
			keysetURI:   "aws-secretsmanager://groupbuy-keyset",
			kmsURI:      "not-a-kms-uri",
			kms:         &fakeKMS{},
			sm:          &fakeSecretsManager{},
			errContains: []string{"creating KMS AEAD"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadKeysetFromAWS(context.Background(), tt.keysetURI, tt.kmsURI,
				WithKMSClient(tt.kms), WithSecretsManagerClient(tt.sm))
			require.Error(t, err)
			for _, s := range tt.errContains {
				assert.Contains(t, err.Error(), s)
			}
		})
	}
}

func TestLoadKeysetFromAWS_KMSDecryptError(t *testing.T) {
	secret := encryptedKeysetJSON(t, &fakeKMS{})

	failing := &fakeKMS{
		decryptFn: func(context.Context, *kms.DecryptInput, ...func(*kms.Options)) (*kms.DecryptOutput, error) {
			return nil, errors.New("kms key disabled")
		},
	}

	_, err := LoadKeysetFromAWS(context.Background(), "aws-secretsmanager://groupbuy-keyset", testKMSKeyURI,
		WithKMSClient(failing), WithSecretsManagerClient(secretValue(&secret)))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decrypting keyset")
	assert.Contains(t, err.Error(), "kms key disabled")
}

func TestReadKeysetFromSecretsManager_InvalidURI(t *testing.T) {
	tests := []struct {
		name        string
		uri         string
		errContains string
	}{
		{"missing prefix", "https://example.com/secret", "must start with aws-secretsmanager://"},
		{"wrong scheme", "aws-kms://some-key", "must start with aws-secretsmanager://"},
		{"empty string", "", "must start with aws-secretsmanager://"},
		{"prefix only", "aws-secretsmanager://", "secret name is empty"},
	}

	// URI validation happens before any API call, so no client is needed.
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := readKeysetFromSecretsManager(context.Background(), tt.uri, nil)
			assert.ErrorContains(t, err, tt.errContains)
		})
	}
}

type failingAEAD struct {
	encryptErr error
	decryptErr error
}

func (f *failingAEAD) Encrypt(plaintext, _ []byte) ([]byte, error) {
	if f.encryptErr != nil {
		return nil, f.encryptErr
	}
	return plaintext, nil
}

func (f *failingAEAD) Decrypt(ciphertext, _ []byte) ([]byte, error) {
	if f.decryptErr != nil {
		return nil, f.decryptErr
	}
	return ciphertext, nil
}

// mismatchAEAD decrypts to something other than what was encrypted.
type mismatchAEAD struct{}

func (mismatchAEAD) Encrypt(plaintext, _ []byte) ([]byte, error) {
	return plaintext, nil
}

func (mismatchAEAD) Decrypt(_, _ []byte) ([]byte, error) {
	return []byte("something else"), nil
}
