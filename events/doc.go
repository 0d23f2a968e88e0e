// Package events publishes domain events to the application topics.
//
// Every event has a category that fixes its topic and partition-key prefix:
//
//	user-action  -> user-actions   key user-<userId>
//	data-update  -> data-updates   key record-<recordId>
//	system-event -> system-events  key system-<unix millis>
//
// Publish never panics and never returns an error; it reports success as a
// bool and logs exactly one record per attempt. Callers treat false as a
// warning, not a failure of the action that triggered the event.
package events
