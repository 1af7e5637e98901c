// Package trigger runs a job's pipeline for each way a job can be invoked.
//
// A firing walks select -> resolve -> build -> dispatch once. What happens to
// the outcome depends on the entry point:
//
//   - RunScheduled logs it and always reports the firing as handled.
//   - FireNow and SendCustom return an error when nothing was delivered.
package trigger
