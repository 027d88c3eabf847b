// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

package config

import (
	"errors"
	"io/fs"
	"net/url"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/gatekeep/gatekeep/internal/auth"
)

// EnvPrefix marks environment variables read by Load. A double underscore
// separates nesting levels: GATEKEEP_AUTH__TOKEN_SECRET sets auth.token_secret.
const EnvPrefix = "GATEKEEP_"

// legacyEnv maps unprefixed variables still used by existing deployments.
var legacyEnv = map[string]string{
	"DATABASE_URL":   "database.url",
	"REDIS_URL":      "redis.url",
	"JWT_SECRET_KEY": "auth.token_secret",
}

// Source says where to read configuration from. Zero values are skipped.
type Source struct {
	// File is a YAML file path. A missing file is an error.
	File string
	// DotEnv files are loaded into the process environment first, without
	// overriding variables that are already set. Missing files are ignored.
	DotEnv []string
	// Flags are applied last; only flags the user changed count.
	Flags *pflag.FlagSet
	// FlagKeys maps flag names to config keys.
	FlagKeys map[string]string
}

// Load builds a Config from Default() and src, then validates it.
func Load(src Source) (*Config, error) {
	cfg, err := LoadUnvalidated(src)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadUnvalidated layers src over Default() without running Validate. Tools
// that only need the database URL use it.
func LoadUnvalidated(src Source) (*Config, error) {
	if err := loadDotEnv(src.DotEnv); err != nil {
		return nil, err
	}

	k := koanf.New(".")
	if src.File != "" {
		if err := k.Load(file.Provider(src.File), yaml.Parser()); err != nil {
			return nil, oops.Code("CONFIG_FILE_INVALID").With("path", src.File).Wrap(err)
		}
	}

	if err := k.Load(env.Provider("", ".", legacyKey), nil); err != nil {
		return nil, oops.Code("CONFIG_ENV_INVALID").Wrap(err)
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, oops.Code("CONFIG_ENV_INVALID").Wrap(err)
	}

	if src.Flags != nil {
		provider := posflag.ProviderWithFlag(src.Flags, ".", k, func(f *pflag.Flag) (string, interface{}) {
			key, ok := src.FlagKeys[f.Name]
			if !ok || !f.Changed {
				return "", nil
			}
			return key, posflag.FlagVal(src.Flags, f)
		})
		if err := k.Load(provider, nil); err != nil {
			return nil, oops.Code("CONFIG_FLAGS_INVALID").Wrap(err)
		}
	}

	cfg := Default()
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, oops.Code("CONFIG_DECODE_FAILED").Wrap(err)
	}
	return &cfg, nil
}

func envKey(name string) string {
	name = strings.TrimPrefix(name, EnvPrefix)
	return strings.ToLower(strings.ReplaceAll(name, "__", "."))
}

func legacyKey(name string) string {
	return legacyEnv[name]
}

func loadDotEnv(paths []string) error {
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return oops.Code("CONFIG_DOTENV_INVALID").With("path", p).Wrap(err)
		}
	}
	return nil
}

// Validate checks field constraints and the combinations between them.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fe.Namespace()+":"+fe.Tag())
			}
			return oops.Code("CONFIG_INVALID").With("fields", fields).Errorf("invalid configuration: %s", strings.Join(fields, ", "))
		}
		return oops.Code("CONFIG_INVALID").Wrap(err)
	}

	var problems []string
	if len(c.Auth.TokenSecret) < auth.MinSecretBytes {
		problems = append(problems, "auth.token_secret must be at least 32 bytes")
	}
	needsRedis := c.Auth.AttemptStore == AttemptStoreRedis || c.Mail.Mode == MailModeQueue
	if needsRedis && c.Redis.URL == "" {
		problems = append(problems, "redis.url is required for the redis attempt store and queued mail")
	}
	if c.Mail.Mode != MailModeLog && (c.Mail.SMTP.Host == "" || c.Mail.SMTP.From == "" || c.Mail.SMTP.Port == 0) {
		problems = append(problems, "mail.smtp.host, port and from are required unless mail.mode is log")
	}
	if len(problems) > 0 {
		return oops.Code("CONFIG_INVALID").With("problems", problems).Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

// Redacted returns a copy safe to log.
func (c Config) Redacted() Config {
	mask := func(s string) string {
		if s == "" {
			return ""
		}
		return "******"
	}
	c.Auth.TokenSecret = mask(c.Auth.TokenSecret)
	c.Mail.SMTP.Password = mask(c.Mail.SMTP.Password)
	c.Database.URL = redactURLPassword(c.Database.URL)
	c.Redis.URL = redactURLPassword(c.Redis.URL)
	return c
}

func redactURLPassword(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	return u.Redacted()
}
