package store

// OutboxEntry is a pending or settled outgoing send. Entries are attempted
// once: a failed entry stays failed, there is no retry queue.
type OutboxEntry struct {
	ID            int64
	ClientMsgID   string
	ChatID        string
	RealText      string
	ImageData     []byte
	ImageFilename string
	Status        string // queued, sending, sent, failed
	ErrorMessage  string
}
