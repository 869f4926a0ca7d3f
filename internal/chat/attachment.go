package chat

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

const (
	KindImage    = "image"
	KindDocument = "document"
)

var (
	ErrUnsupportedType    = errors.New("unsupported attachment type")
	ErrAttachmentTooLarge = errors.New("attachment exceeds size limit")
)

// EncodeAttachment converts raw file bytes into a self-contained inline
// attachment. Type and size rejection happen before any encoding work; the
// transform itself is pure. Images and PDF documents are accepted, matching
// what the completion API can consume inline.
func EncodeAttachment(fileName, mimeType string, data []byte, maxSize int64) (Attachment, error) {
	if int64(len(data)) > maxSize {
		return Attachment{}, fmt.Errorf("%w: %d bytes (limit %d)", ErrAttachmentTooLarge, len(data), maxSize)
	}

	if mimeType == "" {
		mimeType = http.DetectContentType(data)
	}

	var kind string
	switch {
	case strings.HasPrefix(mimeType, "image/"):
		kind = KindImage
	case mimeType == "application/pdf":
		kind = KindDocument
	default:
		return Attachment{}, fmt.Errorf("%w: %s", ErrUnsupportedType, mimeType)
	}

	dataURL := fmt.Sprintf("data:%s;base64,%s", mimeType, base64.StdEncoding.EncodeToString(data))

	return Attachment{
		Kind:     kind,
		MimeType: mimeType,
		DataURL:  dataURL,
		FileName: fileName,
	}, nil
}

// AnnotateDisplayContent builds the human-facing variant of a user message
// that carries attachments: the file payload is replaced by a short note.
func AnnotateDisplayContent(content string, attachments []Attachment) string {
	if len(attachments) == 0 {
		return content
	}
	parts := make([]string, 0, len(attachments)+1)
	if content != "" {
		parts = append(parts, content)
	}
	for _, att := range attachments {
		label := "Document"
		if att.Kind == KindImage {
			label = "Image"
		}
		parts = append(parts, fmt.Sprintf("%s attached: %s", label, att.FileName))
	}
	return strings.Join(parts, "\n\n")
}
