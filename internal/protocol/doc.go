// Package protocol defines the wire messages exchanged with the workspace
// service.
//
// Every message is a JSON object carrying a "name" field next to its payload
// fields:
//
//	{"name": "patch", "id": 1, "patch": "@@ -1,5 +1,5 @@...", "md5_before": "...", "md5_after": "..."}
//
// Outbound messages implement Message; Encode adds the name field. Inbound
// frames are split with Decode and the payload is unmarshalled into the typed
// struct for that name with Unmarshal.
package protocol
