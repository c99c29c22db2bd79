// Package taskqueue defines the crawl task and login account models, their
// status state machines, and the collaborator interfaces the dispatcher and
// executor are written against.
//
// Every status change is expressed as a pure function over a record and the
// version the caller last observed. Stores persist the returned record with a
// compare-and-swap on that version, so losing a race is an ordinary
// ErrRaceLost result rather than a lock wait.
package taskqueue
