package config

import (
	"net/url"
)

const redacted = "***"

// Redacted returns a copy of c with secrets masked, for logging.
func (c *Config) Redacted() Config {
	out := *c

	redact(&out.Solana.WalletPrivateKey)
	redact(&out.Redis.Password)
	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)
	out.Storage.PostgresDSN = redactDSN(c.Storage.PostgresDSN)
	out.Storage.ClickHouseDSN = redactDSN(c.Storage.ClickHouseDSN)

	return out
}

func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}

// redactDSN masks the password of a URL-style DSN. DSNs that do not parse as
// URLs are masked whole.
func redactDSN(dsn string) string {
	if dsn == "" {
		return ""
	}
	u, err := url.Parse(dsn)
	if err != nil || u.Scheme == "" {
		return redacted
	}
	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), redacted)
	}
	return u.String()
}
