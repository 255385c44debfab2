package common

import (
	"net/url"
	"strings"
	"time"

	gosqlmysql "github.com/go-sql-driver/mysql"

	"github.com/Laisky/errors/v2"
)

// NormalizeMySQLDSN accepts either a go-sql-driver DSN or a mysql:// URL and
// returns a driver DSN with parseTime=true, so DATETIME columns scan into
// time.Time. The location defaults to UTC unless the DSN names one.
func NormalizeMySQLDSN(dsn string) (string, error) {
	driverDSN, err := mysqlURLToDriverDSN(dsn)
	if err != nil {
		return "", errors.Wrap(err, "convert MySQL DSN")
	}

	cfg, err := gosqlmysql.ParseDSN(driverDSN)
	if err != nil {
		return "", errors.Wrap(err, "parse MySQL DSN")
	}

	cfg.ParseTime = true
	if !dsnHasLocParam(driverDSN) {
		cfg.Loc = time.UTC
	}

	return cfg.FormatDSN(), nil
}

func mysqlURLToDriverDSN(dsn string) (string, error) {
	if !strings.HasPrefix(strings.ToLower(dsn), "mysql://") {
		return dsn, nil
	}

	parsed, err := url.Parse(dsn)
	if err != nil {
		return "", errors.Wrap(err, "parse mysql:// DSN")
	}
	if parsed.Host == "" {
		return "", errors.New("mysql DSN missing host")
	}

	var b strings.Builder
	if parsed.User != nil {
		b.WriteString(parsed.User.Username())
		if pwd, ok := parsed.User.Password(); ok {
			b.WriteByte(':')
			b.WriteString(pwd)
		}
		b.WriteByte('@')
	}
	b.WriteString("tcp(")
	b.WriteString(parsed.Host)
	b.WriteString(")/")
	b.WriteString(strings.TrimPrefix(parsed.Path, "/"))
	if parsed.RawQuery != "" {
		b.WriteByte('?')
		b.WriteString(parsed.RawQuery)
	}
	return b.String(), nil
}

func dsnHasLocParam(dsn string) bool {
	_, query, found := strings.Cut(dsn, "?")
	if !found {
		return false
	}
	values, err := url.ParseQuery(query)
	if err != nil {
		return false
	}
	_, ok := values["loc"]
	return ok
}
