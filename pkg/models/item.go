package models

import (
	"time"
)

// ItemKind distinguishes the two upload collections a user owns.
type ItemKind string

const (
	ItemKindGallery ItemKind = "gallery"
	ItemKindDoc     ItemKind = "doc"
)

// Valid reports whether the kind is one of the known item kinds.
func (k ItemKind) Valid() bool {
	return k == ItemKindGallery || k == ItemKindDoc
}

// UploadItem is a single gallery image or document. The content travels as a
// data URI, matching what browsers render directly into <img> and <iframe>.
type UploadItem struct {
	ID        string    `json:"id" bson:"id"`
	Name      string    `json:"name" bson:"name"`
	MimeType  string    `json:"mimeType" bson:"mimeType"`
	DataURI   string    `json:"dataUrl" bson:"dataUrl"`
	CreatedAt time.Time `json:"createdAt" bson:"createdAt"`
}

// GalleryDoc is the per-user gallery record: one document, array-valued field.
type GalleryDoc struct {
	Images []UploadItem `bson:"images"`
}

// DocumentsDoc is the per-user documents record.
type DocumentsDoc struct {
	Docs []UploadItem `bson:"docs"`
}

// PurgeUserRequest is the queue message emitted when an admin deletes a user;
// the worker removes everything the account owned.
type PurgeUserRequest struct {
	UserID    string `json:"user_id"`
	AvatarKey string `json:"avatar_key,omitempty"`
}
