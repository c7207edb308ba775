// Package membership resolves which organization governs a user's
// entitlements.
//
// A user may belong to several organizations. The governing one is chosen by
// an explicit role priority table (owner, then teacher, then student); ties
// go to the earliest membership. Deleted and pending memberships never
// govern.
package membership
