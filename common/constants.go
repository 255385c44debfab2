package common

import "time"

// Version is overridden at build time via -ldflags.
var Version = "v0.1.0"

// StartTime records process start for uptime reporting.
var StartTime = time.Now().Unix()
