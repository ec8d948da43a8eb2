// Package credential owns the process-wide pool of upstream API keys.
//
// Invariants:
//   - Selection (cursor read, skip unhealthy, cursor advance) and every health
//     transition happen under one mutex.
//   - With no healthy key, the cooling-down key that failed longest ago is handed out.
//     Exhausted keys are handed out only when every key is exhausted.
//   - Cooling-down keys return to healthy once their backoff elapses.
//
// Usage:
//
//	pool, _ := credential.NewPool(credential.Config{Keys: keys})
//	cred := pool.Current()
//	if err := call(cred); err != nil {
//		pool.ReportFailure(cred, credential.FailureRateLimited, err.Error())
//	} else {
//		pool.ReportSuccess(cred)
//	}
package credential
