package logger

import "sync"

// ResetSetupLogOnceForTests clears the setupLogOnce guard so a test can run
// SetupLogger again with different settings. Test-only.
func ResetSetupLogOnceForTests() {
	setupLogOnce = sync.Once{}
}
