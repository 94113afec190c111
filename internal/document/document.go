// Package document stores uploaded binary documents and their metadata in an
// S3-compatible object store.
package document

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound             = errors.New("document not found")
	ErrUnsupportedMediaType = errors.New("unsupported media type")
	ErrEmpty                = errors.New("document is empty")
)

// Metadata keys. Object stores return user metadata with arbitrary casing,
// so keys are always lower-cased on the way out.
const (
	metaFileName          = "filename"
	metaUploadedBy        = "uploadedby"
	metaDocumentType      = "documenttype"
	metaSource            = "source"
	metaSourceAddress     = "sourceaddress"
	metaSuggestedCategory = "suggestedcategory"
	metaUserCategory      = "usercategory"
	metaTargetMinister    = "targetminister"
	metaChecksum          = "checksum"
	metaCreatedOn         = "createdon"
)

type Properties struct {
	CreatedOn     time.Time `json:"createdOn"`
	LastModified  time.Time `json:"lastModified"`
	ETag          string    `json:"etag"`
	ContentLength int64     `json:"contentLength"`
	ContentType   string    `json:"contentType"`
}

type Document struct {
	Name       string     `json:"name"`
	Properties Properties `json:"properties"`
}

type Metadata struct {
	Metadata    map[string]string `json:"metadata"`
	ContentType string            `json:"contentType"`
}

// MetadataUpdate is the user-editable metadata of a document.
type MetadataUpdate struct {
	FileName          string `json:"fileName"`
	UploadedBy        string `json:"uploadedBy"`
	DocumentType      string `json:"documentType"`
	Source            string `json:"source"`
	SourceAddress     string `json:"sourceAddress"`
	SuggestedCategory string `json:"suggestedCategory"`
	UserCategory      string `json:"userCategory"`
	TargetMinister    string `json:"targetMinister"`
}

func (u MetadataUpdate) values() map[string]string {
	return map[string]string{
		metaFileName:          u.FileName,
		metaUploadedBy:        u.UploadedBy,
		metaDocumentType:      u.DocumentType,
		metaSource:            u.Source,
		metaSourceAddress:     u.SourceAddress,
		metaSuggestedCategory: u.SuggestedCategory,
		metaUserCategory:      u.UserCategory,
		metaTargetMinister:    u.TargetMinister,
	}
}

// ObjectInfo describes a stored object.
type ObjectInfo struct {
	Key          string
	Size         int64
	ETag         string
	ContentType  string
	LastModified time.Time
	Metadata     map[string]string
}

// ObjectStore is the blob storage port. Implementations return ErrNotFound
// for missing keys.
type ObjectStore interface {
	EnsureBucket(ctx context.Context) error
	Put(ctx context.Context, key string, data []byte, contentType string, metadata map[string]string) error
	Get(ctx context.Context, key string) ([]byte, ObjectInfo, error)
	Stat(ctx context.Context, key string) (ObjectInfo, error)
	List(ctx context.Context) ([]ObjectInfo, error)
	ReplaceMetadata(ctx context.Context, key, contentType string, metadata map[string]string) error
}
