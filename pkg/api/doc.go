// Package api is the billing HTTP surface: entitlement checks, user
// subscription actions, the renewal trigger and provider checkout webhooks.
// Routing is go-chi; every response body is JSON.
package api
