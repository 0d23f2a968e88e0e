// Package cdc normalizes change-data-capture envelopes into one canonical
// event shape.
//
// Two upstream dialects are recognized:
//
//	{"type":"insert","database":"test","table":"user_data","data":[{...}]}          // canal-json
//	{"op":"update","db":"test","tbl":"user_data","before":{...},"after":{...}}       // open-protocol
//
// Normalize never fails: missing or malformed fields degrade to
// EventUnknown or nil.
package cdc
