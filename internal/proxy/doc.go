package proxy

// Package proxy implements the socksbridge proxy engine.
//
// A Manager binds one TLS listener per configured port. Each listener serves
// CONNECT tunnels (hijack + bidirectional copy) and absolute-URI forward
// requests, reaching the destination directly or through the listener's
// SOCKS5 gateway. Proxy-Authorization is checked per request and timeouts are
// resolved from the live configuration.
