// Package httputil provides the JSON request/response helpers and generic
// HTTP middleware shared by every tasknest handler.
//
// Errors are always written as {"error": "..."}:
//
//	httputil.WriteNotFound(w, "board not found")
//
// Request bodies are size limited and strict:
//
//	var req createBoardRequest
//	if !httputil.ParseJSONOrError(w, r, &req) {
//		return
//	}
package httputil
