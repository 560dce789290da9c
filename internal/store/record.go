package store

import "time"

// Mode partitions MailQueue rows by attachment presence, per spec §3/§4.2.
type Mode string

const (
	ModeAll          Mode = ""
	ModeReport       Mode = "report"
	ModeNotification Mode = "notification"
)

// Message is the typed shape of a MailQueue/MailArchive/FailedMail row. The
// optional columns are pointers rather than the source's string-keyed
// mapping, per the Design Notes in spec.md.
type Message struct {
	ID                 int64
	DestinationAddress string
	SourceAddress      *string
	CCAddress          *string
	BCCAddress         *string
	Subject            string
	Body               string
	Attachment         []byte
	Attempts           int
	ProcessedBy        *string
	CreatedAt          time.Time
}

// IsReport reports whether the row carries an attachment, i.e. belongs to
// the "report" mode rather than "notification".
func (m *Message) IsReport() bool {
	return len(m.Attachment) > 0
}
