package chat

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSizeLimit = 10 * 1024 * 1024

func TestEncodeImageAttachment(t *testing.T) {
	data := []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A} // PNG magic
	att, err := EncodeAttachment("photo.png", "image/png", data, testSizeLimit)
	require.NoError(t, err)

	assert.Equal(t, KindImage, att.Kind)
	assert.Equal(t, "image/png", att.MimeType)
	assert.Equal(t, "photo.png", att.FileName)
	require.True(t, strings.HasPrefix(att.DataURL, "data:image/png;base64,"))

	decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(att.DataURL, "data:image/png;base64,"))
	require.NoError(t, err)
	assert.Equal(t, data, decoded)
}

func TestEncodePDFAttachment(t *testing.T) {
	att, err := EncodeAttachment("report.pdf", "application/pdf", []byte("%PDF-1.4"), testSizeLimit)
	require.NoError(t, err)
	assert.Equal(t, KindDocument, att.Kind)
}

func TestEncodeAttachmentSniffsMissingMimeType(t *testing.T) {
	data := []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}
	att, err := EncodeAttachment("mystery", "", data, testSizeLimit)
	require.NoError(t, err)
	assert.Equal(t, KindImage, att.Kind)
	assert.Equal(t, "image/png", att.MimeType)
}

func TestEncodeAttachmentRejectsUnsupportedType(t *testing.T) {
	_, err := EncodeAttachment("notes.docx", "application/vnd.openxmlformats-officedocument.wordprocessingml.document", []byte("x"), testSizeLimit)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnsupportedType)
}

func TestEncodeAttachmentRejectsTooLarge(t *testing.T) {
	_, err := EncodeAttachment("big.png", "image/png", make([]byte, 11), 10)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAttachmentTooLarge)
}

func TestAnnotateDisplayContent(t *testing.T) {
	atts := []Attachment{
		{Kind: KindImage, FileName: "pic.png"},
		{Kind: KindDocument, FileName: "doc.pdf"},
	}

	out := AnnotateDisplayContent("check these", atts)
	assert.Equal(t, "check these\n\nImage attached: pic.png\n\nDocument attached: doc.pdf", out)

	// No attachments: display content is just the text.
	assert.Equal(t, "hello", AnnotateDisplayContent("hello", nil))

	// Attachment-only message still gets an annotation.
	assert.Equal(t, "Image attached: pic.png", AnnotateDisplayContent("", atts[:1]))
}
