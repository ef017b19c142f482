// Package localization orchestrates per-scan pose estimation against
// a graph map. A state machine moves between global search (coarse
// relocalization over a pose range) and incremental tracking
// (registration against the local map seeded by the last pose),
// counting consecutive failures to decide when tracking has been
// lost. Accepted poses feed the local map rebuild loop and a bounded
// history serving timestamped pose queries.
package localization
