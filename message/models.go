package message

import "time"

const MaxContentLength = 4000

type Message struct {
	ID         string
	ProjectID  string
	SenderID   string
	ReceiverID string
	Content    string
	IsRead     bool
	CreatedAt  time.Time
}

type Participant struct {
	ID        string
	Username  string
	FirstName string
	LastName  string
}

// Thread is a message joined with both participants.
type Thread struct {
	Message  Message
	Sender   Participant
	Receiver Participant
}

type PostParams struct {
	ProjectID  string
	SenderID   string
	ReceiverID string
	Content    string
}
