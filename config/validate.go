package config

import (
	"errors"
	"fmt"

	"github.com/BaSui01/flowgraph/workflow/retry"
	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate 验证配置
// Redis 与 Database 段仅在对应存储类型被选中时校验。
func (c *Config) Validate() error {
	sections := []struct {
		name    string
		value   any
		enabled bool
	}{
		{"engine", &c.Engine, true},
		{"retry", &c.Retry, true},
		{"store", &c.Store, true},
		{"redis", &c.Redis, c.Store.Type == "redis"},
		{"database", &c.Database, c.Store.Type == "sql"},
		{"log", &c.Log, true},
		{"telemetry", &c.Telemetry, true},
		{"metrics", &c.Metrics, true},
	}

	var errs []error
	for _, s := range sections {
		if !s.enabled {
			continue
		}
		if err := validate.Struct(s.value); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.name, err))
		}
	}

	if c.Retry.MaxDelay > 0 && c.Retry.MaxDelay < c.Retry.Delay {
		errs = append(errs, errors.New("retry: max_delay must not be below delay"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %w", errors.Join(errs...))
	}
	return nil
}

// Policy 将默认重试配置转换为 retry.Policy
func (r RetryConfig) Policy() *retry.Policy {
	return &retry.Policy{
		MaxAttempts:       r.MaxAttempts,
		Delay:             r.Delay,
		BackoffMultiplier: r.BackoffMultiplier,
		MaxDelay:          r.MaxDelay,
	}
}
