/*
Package conn owns one transport-level WebSocket connection to a renderer.

A Conn dials in the background and reports its lifecycle to a Handler: OnOpen once the handshake succeeds,
OnMessage for each text or binary message, and OnClose exactly once when the connection ends for any reason,
including a failed dial. Send only writes while the connection is open and otherwise fails with ErrNotConnected.

Conns never reconnect. Reconnection is a policy of the session that owns the Conn.
*/
package conn
