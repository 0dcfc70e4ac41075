package campaign

import (
	"errors"
	"fmt"
	"strings"
)

// Body is the message payload, a closed sum over the four supported kinds.
// Media kinds always carry a file reference, so a "photo without media"
// cannot be represented.
type Body interface {
	Kind() BodyKind
	validate() error
}

type BodyKind string

const (
	KindText     BodyKind = "text"
	KindPhoto    BodyKind = "photo"
	KindVideo    BodyKind = "video"
	KindDocument BodyKind = "document"
)

type Text struct {
	Text string
}

type Photo struct {
	Caption string
	FileID  string
}

type Video struct {
	Caption string
	FileID  string
}

type Document struct {
	Caption string
	FileID  string
}

func (Text) Kind() BodyKind     { return KindText }
func (Photo) Kind() BodyKind    { return KindPhoto }
func (Video) Kind() BodyKind    { return KindVideo }
func (Document) Kind() BodyKind { return KindDocument }

func (b Text) validate() error {
	if strings.TrimSpace(b.Text) == "" {
		return errors.New("text body is empty")
	}
	return nil
}

func (b Photo) validate() error    { return mediaValidate("photo", b.FileID) }
func (b Video) validate() error    { return mediaValidate("video", b.FileID) }
func (b Document) validate() error { return mediaValidate("document", b.FileID) }

func mediaValidate(kind, fileID string) error {
	if strings.TrimSpace(fileID) == "" {
		return fmt.Errorf("%s body has no media reference", kind)
	}
	return nil
}

// NewBody builds a Body from the flat authoring fields (kind discriminator,
// text, optional media reference). The storage layer uses the same mapping to
// round-trip bodies through their column form.
func NewBody(kind BodyKind, text, fileID string) (Body, error) {
	var b Body
	switch kind {
	case KindText, "":
		b = Text{Text: text}
	case KindPhoto:
		b = Photo{Caption: text, FileID: fileID}
	case KindVideo:
		b = Video{Caption: text, FileID: fileID}
	case KindDocument:
		b = Document{Caption: text, FileID: fileID}
	default:
		return nil, fmt.Errorf("unknown body kind %q", kind)
	}
	if err := b.validate(); err != nil {
		return nil, err
	}
	return b, nil
}

// Flatten is the inverse of NewBody.
func Flatten(b Body) (kind BodyKind, text, fileID string) {
	switch v := b.(type) {
	case Text:
		return KindText, v.Text, ""
	case Photo:
		return KindPhoto, v.Caption, v.FileID
	case Video:
		return KindVideo, v.Caption, v.FileID
	case Document:
		return KindDocument, v.Caption, v.FileID
	default:
		return "", "", ""
	}
}
