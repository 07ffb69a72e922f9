// Package queue defines message payloads exchanged over the message broker.
package queue

import "time"

// Queue names. Both queues are durable.
const (
	MailQueue          = "mail.outbound"
	UploadCreatedQueue = "upload.created"
)

// MailRequested asks the mail worker to deliver one message. It carries
// the fully rendered mail so the worker needs no database access.
type MailRequested struct {
	ID          string    `json:"id"`
	Kind        string    `json:"kind"`
	To          string    `json:"to"`
	Subject     string    `json:"subject"`
	Body        string    `json:"body"`
	RequestedAt time.Time `json:"requested_at"`
}

// UploadCreated is published after an upload and its prediction are
// stored. It contains enough information for downstream consumers to log,
// notify, or trigger analytics without querying the primary database.
type UploadCreated struct {
	ID         string    `json:"id"`
	UploadID   uint64    `json:"upload_id"`
	PatientID  uint64    `json:"patient_id"`
	OwnerID    uint64    `json:"owner_id"`
	BodyPart   string    `json:"body_part"`
	Findings   int       `json:"findings"`
	Processed  bool      `json:"processed"`
	UploadedAt time.Time `json:"uploaded_at"`
}
