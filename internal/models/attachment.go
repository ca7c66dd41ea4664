package models

// Attachment categories.
const (
	AttachmentForNotification = "NOTIFICATION"
	AttachmentForPrincipal    = "PRINCIPAL"
	AttachmentForDependent    = "DEPENDENT"
)

// Attachment references a file held in object storage.
type Attachment struct {
	ID             int64  `json:"id"`
	FilePath       string `json:"filePath"`
	FileName       string `json:"fileName"`
	AttachmentFor  string `json:"attachmentFor"`
	NotificationID *int64 `json:"notificationId,omitempty"`
	PrincipalID    *int64 `json:"principalId,omitempty"`
	DependentID    *int64 `json:"dependentId,omitempty"`
}
