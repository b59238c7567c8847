// Package httpapi exposes the authcore Engine over HTTP.
//
// [NewRouter] mounts every auth route under /api on a chi router with CORS,
// request metadata capture and panic recovery. Responses use one JSON
// envelope:
//
//	{"success": true, "message": "...", "data": {...}}
//	{"success": false, "message": "...", "code": "token_expired"}
//
// Tokens travel only in the cookies the Engine returns; they are never part
// of a response body.
package httpapi
