// Package server implements the HTTP and socket front end of roomhub.
//
// The implementation is organized into specialized files for configuration,
// origin policy, rate limiting, client pumps, routing, and HTTP handlers.
// Room state, routing and persistence live in their own packages; Server
// owns one instance of each and passes them by reference.
package server
