// Package runstate tracks execution runs and their status state machine.
//
// A run moves through queued → loading_packages → completed | failed.
// The Tracker holds at most one record per run id; updates replace the
// record and are rejected if they would move a run backwards or out of a
// terminal state. Presentation layers read records with Get and List or
// follow them live with Subscribe.
package runstate
