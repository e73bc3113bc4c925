package config

import (
	"os"
	"strings"
)

func envBool(name string) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(name)))
	return v == "1" || v == "true" || v == "yes" || v == "y"
}

// EnableCashEventPull controls whether the server starts the pull subscription
// for inbound sale events. Deployments behind a push endpoint leave it off.
//
// Set via env:
// - ENABLE_CASH_EVENT_PULL=true
func EnableCashEventPull() bool {
	return envBool("ENABLE_CASH_EVENT_PULL")
}

// DisableOutboxDispatcher turns off the background outbox dispatcher.
// Useful when a dedicated worker instance owns dispatching.
//
// Set via env:
// - DISABLE_OUTBOX_DISPATCHER=true
func DisableOutboxDispatcher() bool {
	return envBool("DISABLE_OUTBOX_DISPATCHER")
}
