// Package domain holds the campaign engine's value types: campaigns and
// their recurrence and pacing settings, contacts and segments, recipients,
// queue items, channel connections and plan limits.
//
// Nothing here imports another internal package or touches storage. Types
// carry JSON and db tags plus small pure predicates such as
// Campaign.IsTerminal.
package domain
