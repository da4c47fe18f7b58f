// Package httputil holds the JSON envelope, decoding and path-parameter
// helpers shared by the API handlers. Errors always render as
// {"error": ..., "code": ...}; 5xx details stay in the log.
package httputil
