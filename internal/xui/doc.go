// Package xui is a client for the 3x-ui panel API.
//
// The panel authenticates with a session cookie from POST /login and
// wraps every payload in a {success, msg, obj} envelope. Expired
// sessions are re-established transparently. LinkBuilder turns an
// inbound plus client into the vless:// URI and subscription URL users
// connect with.
package xui
