// Package tracking implements the delivery/open tracking store.
//
// The service layer owns the lifecycle rules for tracking records: sends
// always insert a fresh row, opens transition the most recent unopened row
// for the (campaign, sender, recipient) key exactly once, and an open with no
// matching send row creates an open-only row so late or lost sends still get
// counted. It depends on the Repository interface defined in this package and
// should never import from the HTTP layer.
//
// Repository implementations live in repository/postgres/ and
// repository/memory/.
package tracking
