package document

import (
	"context"
	"encoding/hex"
	"fmt"
	"mime"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"
)

const (
	MediaTypePDF  = "application/pdf"
	MediaTypeDOC  = "application/msword"
	MediaTypeDOCX = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
)

// sniffedAs maps each accepted media type to what http.DetectContentType
// reports for genuine content of that type. DOCX is a zip container and
// legacy DOC an OLE file the sniffer does not recognise.
var sniffedAs = map[string]string{
	MediaTypePDF:  "application/pdf",
	MediaTypeDOCX: "application/zip",
	MediaTypeDOC:  "application/octet-stream",
}

type Service struct {
	store ObjectStore
	now   func() time.Time
}

func NewService(store ObjectStore) *Service {
	return &Service{store: store, now: time.Now}
}

// Initialise creates the bucket when missing.
func (s *Service) Initialise(ctx context.Context) error {
	return s.store.EnsureBucket(ctx)
}

func (s *Service) List(ctx context.Context) ([]Document, error) {
	objects, err := s.store.List(ctx)
	if err != nil {
		return nil, err
	}
	documents := make([]Document, 0, len(objects))
	for _, obj := range objects {
		documents = append(documents, toDocument(obj))
	}
	sort.Slice(documents, func(i, j int) bool {
		return documents[i].Name < documents[j].Name
	})
	return documents, nil
}

// Get returns the document bytes and their content type.
func (s *Service) Get(ctx context.Context, id string) ([]byte, string, error) {
	key, err := objectKey(id)
	if err != nil {
		return nil, "", err
	}
	data, info, err := s.store.Get(ctx, key)
	if err != nil {
		return nil, "", err
	}
	return data, info.ContentType, nil
}

func (s *Service) GetMetadata(ctx context.Context, id string) (Metadata, error) {
	key, err := objectKey(id)
	if err != nil {
		return Metadata{}, err
	}
	info, err := s.store.Stat(ctx, key)
	if err != nil {
		return Metadata{}, err
	}
	metadata := make(map[string]string, len(info.Metadata))
	for k, v := range info.Metadata {
		metadata[strings.ToLower(k)] = v
	}
	return Metadata{Metadata: metadata, ContentType: info.ContentType}, nil
}

// Save validates the declared content type against the payload and stores
// it under a new id.
func (s *Service) Save(ctx context.Context, data []byte, declaredType string) (string, error) {
	contentType, err := ValidateContent(data, declaredType)
	if err != nil {
		return "", err
	}
	sum := blake2b.Sum256(data)
	id := uuid.NewString()
	metadata := map[string]string{
		metaChecksum:  hex.EncodeToString(sum[:]),
		metaCreatedOn: s.now().UTC().Format(time.RFC3339),
	}
	if err := s.store.Put(ctx, id, data, contentType, metadata); err != nil {
		return "", fmt.Errorf("save document: %w", err)
	}
	return id, nil
}

// UpdateMetadata replaces the user-editable metadata. System keys such as
// the checksum are preserved.
func (s *Service) UpdateMetadata(ctx context.Context, id string, update MetadataUpdate) error {
	key, err := objectKey(id)
	if err != nil {
		return err
	}
	info, err := s.store.Stat(ctx, key)
	if err != nil {
		return err
	}
	metadata := update.values()
	for _, system := range []string{metaChecksum, metaCreatedOn} {
		if v, ok := info.Metadata[system]; ok {
			metadata[system] = v
		}
	}
	for k, v := range metadata {
		if v == "" {
			delete(metadata, k)
		}
	}
	return s.store.ReplaceMetadata(ctx, key, info.ContentType, metadata)
}

// ValidateContent returns the normalised media type of an upload, or
// ErrUnsupportedMediaType when the declared type is not accepted or the
// payload does not look like it.
func ValidateContent(data []byte, declaredType string) (string, error) {
	if len(data) == 0 {
		return "", ErrEmpty
	}
	mediaType, _, err := mime.ParseMediaType(declaredType)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedMediaType, declaredType)
	}
	expected, ok := sniffedAs[mediaType]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedMediaType, mediaType)
	}
	sniffed, _, _ := mime.ParseMediaType(http.DetectContentType(data))
	if sniffed != expected {
		return "", fmt.Errorf("%w: declared %s but content looks like %s", ErrUnsupportedMediaType, mediaType, sniffed)
	}
	return mediaType, nil
}

// objectKey rejects anything that is not a document id before it reaches the
// store, so malformed ids read as missing documents.
func objectKey(id string) (string, error) {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return "", fmt.Errorf("document %q: %w", id, ErrNotFound)
	}
	return parsed.String(), nil
}

func toDocument(obj ObjectInfo) Document {
	created := obj.LastModified
	if raw, ok := obj.Metadata[metaCreatedOn]; ok {
		if parsed, err := time.Parse(time.RFC3339, raw); err == nil {
			created = parsed
		}
	}
	return Document{
		Name: obj.Key,
		Properties: Properties{
			CreatedOn:     created,
			LastModified:  obj.LastModified,
			ETag:          obj.ETag,
			ContentLength: obj.Size,
			ContentType:   obj.ContentType,
		},
	}
}
