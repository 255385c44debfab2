package common

import (
	"github.com/orchidlake/llmstudio/common/config"
)

// Backend flags are set once by model.InitDB based on the DSN prefix and
// read by dialect-specific code (sqlite busy retry, store tests).
var (
	UsingSQLite     = false
	UsingPostgreSQL = false
	UsingMySQL      = false
)

var (
	SQLitePath        = config.SQLitePath
	SQLiteBusyTimeout = config.SQLiteBusyTimeout
)
