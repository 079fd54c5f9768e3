package domain

import (
	"strings"
	"time"
)

// Role identifies the party that produced a turn.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// ParseRole maps a client-supplied role string to a Role. Empty or unknown
// roles default to RoleUser.
func ParseRole(s string) Role {
	if strings.EqualFold(s, string(RoleModel)) {
		return RoleModel
	}
	return RoleUser
}

// Modality is the content type family of a turn.
type Modality string

const (
	ModalityText  Modality = "text"
	ModalityAudio Modality = "audio"
	ModalityImage Modality = "image"
)

// Well-known MIME types.
const (
	MIMETextPlain = "text/plain"
	MIMEAudioPCM  = "audio/pcm"
	MIMEImageJPEG = "image/jpeg"
	MIMEImagePNG  = "image/png"
	MIMEError     = "error"
)

// ModalityForMIME classifies a MIME type. Only text/plain, audio/pcm* and
// image/* are accepted; anything else yields ErrUnsupportedModality.
func ModalityForMIME(mime string) (Modality, error) {
	m := strings.ToLower(strings.TrimSpace(mime))
	switch {
	case m == MIMETextPlain || strings.HasPrefix(m, MIMETextPlain+";"):
		return ModalityText, nil
	case strings.HasPrefix(m, MIMEAudioPCM):
		return ModalityAudio, nil
	case strings.HasPrefix(m, "image/") && len(m) > len("image/"):
		return ModalityImage, nil
	default:
		return "", NewDomainError("ModalityForMIME", ErrUnsupportedModality, mime)
	}
}

// ConversationTurn is one exchange unit in a session history.
type ConversationTurn struct {
	Role      Role      `json:"role"`
	Modality  Modality  `json:"modality"`
	MIMEType  string    `json:"mime_type,omitempty"`
	Text      string    `json:"text,omitempty"` // text payload, or transcript for audio
	Data      []byte    `json:"data,omitempty"` // binary payload for audio/image
	Partial   bool      `json:"partial,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// NewTextTurn builds a complete text turn.
func NewTextTurn(role Role, text string) ConversationTurn {
	return ConversationTurn{
		Role:      role,
		Modality:  ModalityText,
		MIMEType:  MIMETextPlain,
		Text:      text,
		Timestamp: time.Now(),
	}
}

// NewImageTurn builds a complete user image turn.
func NewImageTurn(mime string, data []byte) ConversationTurn {
	return ConversationTurn{
		Role:      RoleUser,
		Modality:  ModalityImage,
		MIMEType:  mime,
		Data:      data,
		Timestamp: time.Now(),
	}
}

// Utterance is the text an intent decision can be made on: the text payload
// for text turns, the transcript for audio, any caption for images.
func (t ConversationTurn) Utterance() string {
	return strings.TrimSpace(t.Text)
}
