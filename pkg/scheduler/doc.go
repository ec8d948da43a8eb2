// Package scheduler runs periodic maintenance jobs, such as resetting the credential
// pool, on cron schedules.
//
//	svc := scheduler.New(scheduler.Config{Logger: logger})
//	_, err := svc.AddJob(scheduler.JobCredentialReset, "0 * * * *", scheduler.CredentialReset(pool))
//	go svc.Start(ctx)
package scheduler
