// Package apiclient is the request core shared by the API wrappers of the
// institute-management front end:
//
//   - TTL response caching with optional stale-while-revalidate
//   - De-duplication of identical in-flight GET requests
//   - A short per-request cooldown that turns accidental repeats into no-ops
//   - Single-flight credential renewal on 401 with exactly one retry
//   - Classification of gateway HTML pages and error bodies into typed errors
//   - Prometheus metrics, OpenTelemetry spans and leveled debug logging
//
// One RenewalCoordinator is shared by every Client of a session, so a burst
// of 401s across resources triggers a single renewal:
//
//	tokens := auth.NewTokenStore()
//	renewal := apiclient.NewRenewalCoordinator(auth.NewRefreshRenewer(tokens, refreshURL, nil).Renew)
//	attendance := apiclient.New(
//	    apiclient.WithBaseURL("https://institute.example.com/api"),
//	    apiclient.WithAuthHeaders(tokens.AuthHeaders),
//	    apiclient.WithRenewalCoordinator(renewal),
//	)
//	resp, err := attendance.Get(ctx, "/attendance", apiclient.Params{"classId": 7})
//
// Errors are *ClientError values; match them with errors.Is against
// ErrCooldownActive, ErrAuthExpired and ErrMalformedResponse. A cooldown
// rejection means an identical request just ran and can be ignored.
package apiclient
