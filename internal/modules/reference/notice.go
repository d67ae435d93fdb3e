package reference

import (
	"bytes"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/renderer/html"
)

const noticeTimeLayout = "2006-01-02 15:04"

const noticeFooter = `----------------------------------------------------------
Update procedure
----------------------------------------------------------
1. Run this check monthly (manually or on the server schedule).
2. If newer versions are found, open the URLs above and
   download the official DSM or ICD materials.
3. Insert key notes under:
   === DSM / ICD Reference Section ===
   inside Dr_Feel_Good_Persona.md

End of file
`

// renderNotice builds the notice document. Both sections are always present, whichever
// kind triggered the check.
func renderNotice(cfg Config, checkedAt time.Time, icdLine string) string {
	var b strings.Builder
	b.WriteString("=============================================\n")
	b.WriteString("Dr. Feel Good - DSM-5-TR / ICD-11 Update Notice\n")
	b.WriteString("=============================================\n\n")
	b.WriteString("Last automatic check: " + checkedAt.Format(noticeTimeLayout) + "\n\n")

	b.WriteString("DSM-5-TR official reference page:\n")
	b.WriteString("▶  " + cfg.DSMURL + "\n")
	b.WriteString("Latest confirmed release: " + dsmRelease + "\n")
	b.WriteString("Next expected bulletin: " + dsmNextBulletin + "\n\n")

	b.WriteString("ICD-11 official reference:\n")
	b.WriteString("▶  " + cfg.ICDHumanURL + "\n")
	b.WriteString("WHO API endpoint: " + cfg.ICDAPIURL + "\n")
	b.WriteString(icdLine + "\n\n")

	b.WriteString(noticeFooter)
	return b.String()
}

var noticeMarkdown = goldmark.New(goldmark.WithRendererOptions(html.WithHardWraps()))

// NoticeHTML renders the plain-text notice as HTML. Line breaks are kept and the rule
// lines become headings or separators.
func NoticeHTML(text []byte) ([]byte, error) {
	var buf bytes.Buffer
	if err := noticeMarkdown.Convert(text, &buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
