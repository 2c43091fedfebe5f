package store

type Attachment struct {
	// ID is the system generated unique identifier for the attachment.
	ID int32
	// UID is the externally visible unique identifier for the attachment.
	UID string

	// Standard fields
	CreatorID int32
	CreatedTs int64

	// Domain specific fields
	Filename    string
	ContentType string
	Size        int64
	// TextContent holds extracted text for text-like attachments.
	// Empty for binary content such as images and PDFs.
	TextContent string
}

type FindAttachment struct {
	ID        *int32
	UID       *string
	CreatorID *int32
}

type DeleteAttachment struct {
	ID        int32
	CreatorID int32
}
