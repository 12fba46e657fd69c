// Package alarm is the alarm scheduling core.
//
// It owns the alarm registry and is responsible for:
//   - loading alarm definitions from a directory of text files
//   - validating alarms against the handler host
//   - computing occurrences for the recurrence kinds (B/O/H/D/W/M/Y)
//   - polling once per minute and handing due alarms to the dispatch engine
//   - persisting the registry through a storage.Store
//
// Handlers run outside the registry lock; they only ever see copies.
package alarm
