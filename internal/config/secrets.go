package config

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strings"
)

var secretPattern = regexp.MustCompile(`\$\{(ENV|VAULT|AWS_SM):([^}]+)\}`)

// HasSecretRef reports whether val contains a secret reference.
func HasSecretRef(val string) bool {
	return secretPattern.MatchString(val)
}

// Resolver replaces ${ENV:NAME}, ${VAULT:path#key} and ${AWS_SM:secret-id}
// references with their values.
type Resolver struct {
	// Region and Profile select the Secrets Manager endpoint when
	// SecretsManager is nil.
	Region  string
	Profile string

	SecretsManager SecretGetter
}

// Resolve substitutes every secret reference in val.
func (r *Resolver) Resolve(ctx context.Context, val string) (string, error) {
	matches := secretPattern.FindAllStringSubmatchIndex(val, -1)
	if matches == nil {
		return val, nil
	}

	var b strings.Builder
	last := 0
	for _, m := range matches {
		provider, ref := val[m[2]:m[3]], val[m[4]:m[5]]
		secret, err := r.lookup(ctx, provider, ref)
		if err != nil {
			return "", err
		}
		b.WriteString(val[last:m[0]])
		b.WriteString(secret)
		last = m[1]
	}
	b.WriteString(val[last:])
	return b.String(), nil
}

func (r *Resolver) lookup(ctx context.Context, provider, ref string) (string, error) {
	switch provider {
	case "ENV":
		v := os.Getenv(ref)
		if v == "" {
			return "", fmt.Errorf("environment variable %s not set", ref)
		}
		return v, nil
	case "VAULT":
		return resolveVault(ctx, ref)
	case "AWS_SM":
		client := r.SecretsManager
		if client == nil {
			c, err := newSecretsManager(ctx, r.Region, r.Profile)
			if err != nil {
				return "", err
			}
			r.SecretsManager = c
			client = c
		}
		return resolveAWSSecretsManager(ctx, client, ref)
	default:
		return "", fmt.Errorf("unknown secrets provider: %s", provider)
	}
}
