/*
Package protocol encodes and decodes the messages exchanged between a render session and a remote renderer.

Text messages are JSON objects tagged by their "Case" field. Frame images are sent by the renderer as
binary WebSocket messages and carry no tag at all, so they never pass through this package.

Session to renderer:

	{"Case":"RequestImage","size":{"X":640,"Y":480}}
	{"Case":"Change","scene":"teapot","samples":4}
	{"Case":"Rendered"}
	{"sender":"surface-1","name":"click","args":["12","40","0"]}

Renderer to session:

	{"Case":"Invalidate"}
	{"Case":"Subscribe","eventName":"click"}
	{"Case":"Unsubscribe","eventName":"click"}

The shared event connection carries channel envelopes prefixed by a single control character:

	#{"targetId":"surface-1","channel":"selection","data":"..."}

A prefix of 'x' marks a raw executable payload. Those are never evaluated by this client.
*/
package protocol
