package capability

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/oklog/ulid/v2"

	"teacher-agent/internal/domain"
)

var imageCues = []string{"image", "picture", "diagram", "draw", "illustrat", "poster", "chart", "visual", "flashcard"}

// TeachingAid answers with localized content and, when the teacher asks for
// a visual, generates an image and stores it in the blob store.
type TeachingAid struct {
	*oracleCapability
	imageModel string
	blobs      domain.BlobStore
	now        func() time.Time
}

// NewTeachingAid builds the teaching aid capability. blobs may be nil, which
// disables image generation.
func NewTeachingAid(opts Options, imageModel string, blobs domain.BlobStore) *TeachingAid {
	return &TeachingAid{
		oracleCapability: newOracleCapability(domain.CapabilityTeachingAid, opts),
		imageModel:       imageModel,
		blobs:            blobs,
		now:              time.Now,
	}
}

func (t *TeachingAid) Invoke(ctx context.Context, inv domain.Invocation) (*domain.Reply, error) {
	reply, err := t.oracleCapability.Invoke(ctx, inv)
	if err != nil {
		return nil, err
	}
	request := inv.Text()
	if t.blobs == nil || t.imageModel == "" || !wantsImage(request) {
		return reply, nil
	}

	att, err := t.createImage(ctx, request)
	if err != nil {
		t.opts.logger().Warn("educational image failed", "session_id", inv.SessionID, "error", err)
		reply.Text += "\n\n(The illustration could not be generated this time.)"
		return reply, nil
	}
	reply.Attachments = append(reply.Attachments, att)
	reply.Text += "\n\nImage: " + att.URL
	return reply, nil
}

func (t *TeachingAid) createImage(ctx context.Context, request string) (domain.Attachment, error) {
	prompt := fmt.Sprintf("Create a simple educational %s. Make it clear and easy to understand for students. "+
		"Use bright colors, clear labels and a simple design suitable for classroom teaching.", request)
	resp, err := t.opts.Oracle.Generate(ctx, domain.GenerateRequest{
		Model:              t.imageModel,
		Contents:           []domain.Content{domain.TextContent(domain.RoleUser, prompt)},
		ResponseModalities: []string{domain.ResponseText, domain.ResponseImage},
	})
	if err != nil {
		return domain.Attachment{}, err
	}

	for _, p := range resp.InlineParts() {
		if !strings.HasPrefix(p.MIMEType, "image/") {
			continue
		}
		key := ImageKey(request, p.MIMEType, t.now())
		url, err := t.blobs.Put(ctx, key, p.Data, p.MIMEType)
		if err != nil {
			return domain.Attachment{}, err
		}
		return domain.Attachment{MIMEType: p.MIMEType, URL: url}, nil
	}
	return domain.Attachment{}, domain.NewDomainError("TeachingAid.createImage", domain.ErrOracleFailure, "no image data received")
}

func wantsImage(text string) bool {
	lower := strings.ToLower(text)
	for _, cue := range imageCues {
		if strings.Contains(lower, cue) {
			return true
		}
	}
	return false
}

// ImageKey builds the blob key educational_images/<slug>_<timestamp>_<id>.<ext>.
func ImageKey(request, mime string, at time.Time) string {
	var b strings.Builder
	for _, r := range request {
		if b.Len() >= 30 {
			break
		}
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '_':
			b.WriteRune(r)
		case r == ' ':
			b.WriteByte('_')
		}
	}
	slug := strings.Trim(b.String(), "_")
	if slug == "" {
		slug = "image"
	}
	id := strings.ToLower(ulid.Make().String())
	return fmt.Sprintf("educational_images/%s_%s_%s.%s", slug, at.Format("20060102_150405"), id[len(id)-8:], extensionFor(mime))
}

func extensionFor(mime string) string {
	switch mime {
	case "image/jpeg", "image/jpg":
		return "jpg"
	case "image/webp":
		return "webp"
	case "image/gif":
		return "gif"
	default:
		return "png"
	}
}
