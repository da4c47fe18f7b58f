// Package campaign implements the campaign lifecycle.
//
// The service owns the status machine (draft → scheduled → running →
// paused/completed/failed/cancelled), populates recipients from dynamic
// segments, and expands pending recipients into a paced, channel-assigned
// send queue. It depends on repository interfaces defined in this package
// and never on HTTP or scheduler code.
//
// Every claim of work is a conditional status update (Repository.Transition);
// a false result means another process won the race and is not an error.
//
// Repository implementations live in repository/postgres/ and repository/memory/.
package campaign
