package services

import (
	"encoding/base64"
	"fmt"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"repage/internal/models"
)

// ImageFilename names a stored image after its position in the document.
func ImageFilename(page, order int, ext string) string {
	return fmt.Sprintf("page%d_%d.%s", page, order, ext)
}

// ImageURL is the API path an image is served from.
func ImageURL(conversionID int64, filename string) string {
	return fmt.Sprintf("/api/conversions/%d/images/%s", conversionID, filename)
}

// InjectImages adds a figure block for every image, ordered by page then
// position. It goes before the last </article>, else the last </body>, else
// at the end.
func InjectImages(doc string, conversionID int64, images []models.StoredImage) string {
	if len(images) == 0 {
		return doc
	}
	sorted := make([]models.StoredImage, len(images))
	copy(sorted, images)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].PageNumber != sorted[j].PageNumber {
			return sorted[i].PageNumber < sorted[j].PageNumber
		}
		return sorted[i].OrderInPage < sorted[j].OrderInPage
	})

	var b strings.Builder
	b.WriteString("<div class=\"pdf-images\">\n")
	for _, img := range sorted {
		fmt.Fprintf(&b, "  <figure class=\"pdf-image\" data-page=\"%d\">\n", img.PageNumber)
		fmt.Fprintf(&b, "    <img src=\"%s\" alt=\"Page %d Image %d\" ", ImageURL(conversionID, img.Filename), img.PageNumber, img.OrderInPage)
		if img.Width > 0 && img.Height > 0 {
			fmt.Fprintf(&b, "width=\"%d\" height=\"%d\" ", img.Width, img.Height)
		}
		b.WriteString("loading=\"lazy\" />\n")
		b.WriteString("  </figure>\n")
	}
	b.WriteString("</div>\n")
	block := b.String()

	for _, tag := range []string{"</article>", "</body>"} {
		if i := strings.LastIndex(doc, tag); i != -1 {
			return doc[:i] + block + doc[i:]
		}
	}
	return doc + block
}

var imageRefPattern = regexp.MustCompile(`<img([^>]*?)src="/api/conversions/(\d+)/images/([^"]+)"([^>]*?)>`)

// previewMIME maps a file extension for data URIs. Unknown extensions are
// labeled PNG.
func previewMIME(filename string) string {
	switch strings.ToLower(strings.TrimPrefix(path.Ext(filename), ".")) {
	case "jpg", "jpeg":
		return "image/jpeg"
	case "gif":
		return "image/gif"
	default:
		return "image/png"
	}
}

// ServeMIME maps a file extension for direct image responses.
func ServeMIME(filename string) string {
	switch strings.ToLower(strings.TrimPrefix(path.Ext(filename), ".")) {
	case "png":
		return "image/png"
	case "jpg", "jpeg":
		return "image/jpeg"
	case "gif":
		return "image/gif"
	default:
		return "application/octet-stream"
	}
}

// EmbedImages rewrites this conversion's image URLs into data URIs so the
// HTML previews standalone. Tags whose image cannot be loaded, or that point
// at another conversion, are left as they are.
func EmbedImages(doc string, conversionID int64, load func(filename string) ([]byte, error)) string {
	return imageRefPattern.ReplaceAllStringFunc(doc, func(tag string) string {
		m := imageRefPattern.FindStringSubmatch(tag)
		id, err := strconv.ParseInt(m[2], 10, 64)
		if err != nil || id != conversionID {
			return tag
		}
		data, err := load(m[3])
		if err != nil || len(data) == 0 {
			return tag
		}
		return fmt.Sprintf(`<img%ssrc="data:%s;base64,%s"%s>`,
			m[1], previewMIME(m[3]), base64.StdEncoding.EncodeToString(data), m[4])
	})
}
