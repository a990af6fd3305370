// Package syncer drives one replica's exchange with the sync authority.
//
// The engine runs a push/pull loop: local committed events are uploaded
// in commit order, then the authority stream is drained from the last
// acknowledged cursor and merged into the store. Between rounds the
// engine parks until a local commit wakes it or the poll interval
// elapses.
//
// Failure handling is split by kind. Transport errors degrade to
// offline operation and retry with bounded exponential backoff; every
// local capability keeps working while disconnected. Authentication
// rejections are terminal: the engine parks in the errored state and
// stays there until it is restarted with new credentials.
package syncer
