package models

import "time"

// Media is the durable record of one completed generation. The byte payload
// lives in the object store under Bucket/ObjectKey; the row is immutable
// except for deletion, which also removes the payload and any thumbnail.
type Media struct {
	ID            string
	OwnerUserID   string
	SourceAddress string
	MediaType     ResourceType
	MimeType      string
	SizeBytes     int64
	Prompt        string
	Model         string
	Details       map[string]any
	Bucket        string
	ObjectKey     string
	ThumbnailKey  *string
	Signature     []byte
	CreatedAt     time.Time
}
