package paramstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/service/ssm"
)

// ssmAPI is the minimal AWS SSM interface required by Client.
// *ssm.Client from aws-sdk-go-v2 satisfies this interface.
type ssmAPI interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// Getter is the interface that wraps GetParameter.
type Getter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// Client wraps an AWS SSM API for parameter retrieval.
type Client struct {
	api ssmAPI
}

func New(api ssmAPI) (*Client, error) {
	if api == nil {
		return nil, errors.New("paramstore: api must not be nil")
	}
	return &Client{api: api}, nil
}

// GetParameter returns the decrypted value of a SecureString or String parameter.
func (c *Client) GetParameter(ctx context.Context, name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("paramstore: name is required")
	}

	withDecryption := true
	out, err := c.api.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           &name,
		WithDecryption: &withDecryption,
	})
	if err != nil {
		return "", fmt.Errorf("paramstore: get parameter %q: %w", name, err)
	}
	if out == nil || out.Parameter == nil || out.Parameter.Value == nil {
		return "", errors.New("paramstore: parameter missing value")
	}
	return *out.Parameter.Value, nil
}

// tokenPayload is the JSON shape stored in SSM for the model API key.
type tokenPayload struct {
	Token string `json:"token"`
}

// KeySource resolves the model API key. A static key wins; otherwise the key
// is read once from a parameter holding {"token": "..."}. Failed lookups are
// not cached so a later request can retry.
type KeySource struct {
	static string
	getter Getter
	name   string

	mu     sync.Mutex
	cached string
}

func NewKeySource(staticKey string, getter Getter, paramName string) *KeySource {
	return &KeySource{
		static: strings.TrimSpace(staticKey),
		getter: getter,
		name:   strings.TrimSpace(paramName),
	}
}

// APIKey returns "" with a nil error when no credential is configured at all.
func (k *KeySource) APIKey(ctx context.Context) (string, error) {
	if k.static != "" {
		return k.static, nil
	}
	if k.getter == nil || k.name == "" {
		return "", nil
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	if k.cached != "" {
		return k.cached, nil
	}
	raw, err := k.getter.GetParameter(ctx, k.name)
	if err != nil {
		return "", fmt.Errorf("paramstore: fetch api key: %w", err)
	}
	var tp tokenPayload
	if err := json.Unmarshal([]byte(raw), &tp); err != nil {
		return "", fmt.Errorf("paramstore: unmarshal api key parameter as JSON: %w", err)
	}
	token := strings.TrimSpace(tp.Token)
	if token == "" {
		return "", errors.New("paramstore: api key token is empty")
	}
	k.cached = token
	return token, nil
}
