// loader.go implements the configuration loading lifecycle.
//
// The loading sequence is:
//  1. Enforce UTC.
//  2. Load .env via godotenv (absent file is fine).
//  3. Outside APP_ENV=local, resolve every *_SSM_PARAM pointer through the
//     SecretProvider and inject the values into the environment.
//  4. Populate Config from envconfig tags.
//  5. Attach linker-injected BuildInfo.
//  6. Validate with go-playground/validator plus cross-field rules.
package config

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// ConfigError is a diagnostic error type returned by LoadConfig.
type ConfigError struct {
	Type    ConfigErrorType
	Message string
	Err     error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// ssmParamSuffix marks pointer variables: DATABASE_URL_SSM_PARAM holds the
// SSM path whose value becomes DATABASE_URL.
const ssmParamSuffix = "_SSM_PARAM"

const localEnv = "local"

// loaderDeps holds the injectable OS hooks so tests never mutate global state.
type loaderDeps struct {
	lookupEnv func(key string) (string, bool)
	setEnv    func(key, value string) error
	environ   func() []string
}

func defaultDeps() loaderDeps {
	return loaderDeps{
		lookupEnv: os.LookupEnv,
		setEnv:    os.Setenv,
		environ:   os.Environ,
	}
}

// LoadConfig loads and validates the configuration. The provider may be nil
// for local development; non-local environments with SSM pointers need one.
func LoadConfig(provider SecretProvider) (*Config, error) {
	return loadConfigWithDeps(provider, defaultDeps())
}

func loadConfigWithDeps(provider SecretProvider, deps loaderDeps) (*Config, error) {
	time.Local = time.UTC

	// godotenv never overrides variables already present in the environment.
	_ = godotenv.Load()

	appEnv, _ := deps.lookupEnv("APP_ENV")
	if appEnv != localEnv {
		if err := resolveSSMParams(provider, deps); err != nil {
			return nil, err
		}
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, &ConfigError{
			Type:    ErrParsing,
			Message: "failed to process environment configuration",
			Err:     err,
		}
	}

	cfg.Build = NewBuildInfo()

	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// validateConfig runs tag validation followed by rules that span sub-configs.
func validateConfig(cfg *Config) error {
	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		return &ConfigError{
			Type:    ErrValidation,
			Message: "configuration validation failed",
			Err:     err,
		}
	}

	// A lease must outlive one invocation's budget or a second invocation
	// could claim the job mid-batch.
	if cfg.Worker.LeaseTTL <= cfg.Worker.TimeBudget {
		return &ConfigError{
			Type:    ErrValidation,
			Message: fmt.Sprintf("WORKER_LEASE_TTL (%s) must exceed WORKER_TIME_BUDGET (%s)", cfg.Worker.LeaseTTL, cfg.Worker.TimeBudget),
		}
	}
	// POST /process runs under REQUEST_TIMEOUT; without headroom past the
	// reserve an invocation could never start a send.
	if cfg.Server.RequestTimeout <= cfg.Worker.DeadlineReserve {
		return &ConfigError{
			Type:    ErrValidation,
			Message: fmt.Sprintf("REQUEST_TIMEOUT (%s) must exceed WORKER_DEADLINE_RESERVE (%s)", cfg.Server.RequestTimeout, cfg.Worker.DeadlineReserve),
		}
	}
	if cfg.Worker.BatchSize < cfg.Gateway.BatchLimit {
		return &ConfigError{
			Type:    ErrValidation,
			Message: fmt.Sprintf("WORKER_BATCH_SIZE (%d) must be at least GATEWAY_BATCH_LIMIT (%d)", cfg.Worker.BatchSize, cfg.Gateway.BatchLimit),
		}
	}
	return nil
}

// ResolveSecrets performs only the SSM resolution step. Entry points that
// read a handful of variables directly (cmd/migrate) call it before os.Getenv.
func ResolveSecrets(provider SecretProvider) error {
	appEnv, _ := os.LookupEnv("APP_ENV")
	if appEnv == localEnv {
		return nil
	}
	return resolveSSMParams(provider, defaultDeps())
}

// resolveSSMParams fetches every *_SSM_PARAM target that is not already set
// and writes the value back into the environment. Direct variables win over
// SSM.
func resolveSSMParams(provider SecretProvider, deps loaderDeps) error {
	pathToTarget := make(map[string]string)
	var paths, targets []string

	for _, entry := range deps.environ() {
		key, value, ok := strings.Cut(entry, "=")
		if !ok || !strings.HasSuffix(key, ssmParamSuffix) || value == "" {
			continue
		}
		target := strings.TrimSuffix(key, ssmParamSuffix)
		if _, exists := deps.lookupEnv(target); exists {
			continue
		}
		pathToTarget[value] = target
		paths = append(paths, value)
		targets = append(targets, target)
	}

	if len(paths) == 0 {
		return nil
	}

	if provider == nil {
		return &ConfigError{
			Type:    ErrSSMResolution,
			Message: fmt.Sprintf("SecretProvider is required for non-local environments (need to resolve: %s)", strings.Join(targets, ", ")),
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	resolved, err := provider.GetParametersBatch(ctx, paths)
	if err != nil {
		return &ConfigError{
			Type:    ErrSSMResolution,
			Message: fmt.Sprintf("failed to resolve %d SSM parameters", len(paths)),
			Err:     err,
		}
	}

	var missing []string
	for _, path := range paths {
		value, ok := resolved[path]
		if !ok {
			missing = append(missing, pathToTarget[path])
			continue
		}
		if err := deps.setEnv(pathToTarget[path], value); err != nil {
			return &ConfigError{
				Type:    ErrSSMResolution,
				Message: fmt.Sprintf("failed to set resolved value for %s", pathToTarget[path]),
				Err:     err,
			}
		}
	}
	if len(missing) > 0 {
		return &ConfigError{
			Type:    ErrSSMResolution,
			Message: fmt.Sprintf("SSM parameters not found for: %s", strings.Join(missing, ", ")),
		}
	}

	return nil
}
