package session

// Buffer holds serialized messages produced before the connection opened.
// It is not safe for concurrent use; the session guards it.
type Buffer struct {
	msgs [][]byte
}

func (b *Buffer) Push(msg []byte) {
	b.msgs = append(b.msgs, msg)
}

func (b *Buffer) Len() int {
	return len(b.msgs)
}

// Drain calls send for each message in FIFO order and empties the buffer.
// Every message is handed to send exactly once, even if an earlier one failed; the first error is returned.
func (b *Buffer) Drain(send func([]byte) error) error {
	msgs := b.msgs
	b.msgs = nil
	var firstErr error
	for _, m := range msgs {
		if err := send(m); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Reset discards all buffered messages and returns how many were dropped.
func (b *Buffer) Reset() int {
	n := len(b.msgs)
	b.msgs = nil
	return n
}
