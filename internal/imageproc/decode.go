package imageproc

import (
	"encoding/base64"
	"net/url"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	apperrors "github.com/yungbote/sitegen-backend/internal/pkg/errors"
)

const mimeSVG = "image/svg+xml"

var extByMIME = map[string]string{
	"image/png":  "png",
	"image/jpeg": "jpg",
	"image/gif":  "gif",
	"image/webp": "webp",
	mimeSVG:      "svg",
}

// Decoded is an embedded image after its data: URL has been unpacked and
// its bytes sniffed.
type Decoded struct {
	Data        []byte
	ContentType string
	Ext         string
}

func (d *Decoded) IsVector() bool { return d.ContentType == mimeSVG }

// DecodeDataURL unpacks a data: URL. The declared media type must agree with
// the sniffed content.
func DecodeDataURL(raw string) (*Decoded, error) {
	if !strings.HasPrefix(strings.ToLower(raw), "data:") {
		return nil, apperrors.Validationf("not a data url")
	}
	meta, payload, ok := strings.Cut(raw[len("data:"):], ",")
	if !ok {
		return nil, apperrors.Validationf("malformed data url")
	}
	params := strings.Split(meta, ";")
	declared := strings.ToLower(strings.TrimSpace(params[0]))
	if declared == "image/jpg" {
		declared = "image/jpeg"
	}
	isBase64 := false
	for _, p := range params[1:] {
		if strings.EqualFold(strings.TrimSpace(p), "base64") {
			isBase64 = true
		}
	}

	var data []byte
	if isBase64 {
		b, err := base64.StdEncoding.DecodeString(strings.TrimSpace(payload))
		if err != nil {
			b, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(strings.TrimSpace(payload), "="))
			if err != nil {
				return nil, apperrors.Validationf("data url base64: %v", err)
			}
		}
		data = b
	} else {
		s, err := url.PathUnescape(payload)
		if err != nil {
			return nil, apperrors.Validationf("data url payload: %v", err)
		}
		data = []byte(s)
	}
	if len(data) == 0 {
		return nil, apperrors.Validationf("data url is empty")
	}

	detected := mimetype.Detect(data)
	contentType := detected.String()
	if i := strings.Index(contentType, ";"); i >= 0 {
		contentType = contentType[:i]
	}
	ext, ok := extByMIME[contentType]
	if !ok {
		return nil, apperrors.Validationf("unsupported image type %s", contentType)
	}
	if declared != "" && declared != "image/*" && !detected.Is(declared) {
		return nil, apperrors.Validationf("declared type %s does not match content %s", declared, contentType)
	}
	return &Decoded{Data: data, ContentType: contentType, Ext: ext}, nil
}
