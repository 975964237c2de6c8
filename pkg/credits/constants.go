package credits

import "time"

const (
	operationIssue   = "issue"
	operationSplit   = "split"
	operationBalance = "balance"
	operationNotify  = "notify"

	operationStatusOK    = "ok"
	operationStatusError = "error"

	defaultMaxPINAttempts  = 5
	defaultUpstreamTimeout = 30 * time.Second
)
