package services

import (
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/raqeeb-app/raqeeb/internal/models"
)

// keywordGroup is one email section: a keyword term and the announcements
// it matched, in arrival order.
type keywordGroup struct {
	Term          string
	Announcements []models.Announcement
}

func groupNewMatches(matches []NewMatch) []keywordGroup {
	index := make(map[string]int)
	groups := make([]keywordGroup, 0)
	for _, m := range matches {
		i, ok := index[m.KeywordTerm]
		if !ok {
			i = len(groups)
			index[m.KeywordTerm] = i
			groups = append(groups, keywordGroup{Term: m.KeywordTerm})
		}
		groups[i].Announcements = append(groups[i].Announcements, m.Announcement)
	}
	return groups
}

// groupEntryMatches builds groups from preloaded digest queue matches.
// Matches whose keyword or announcement row has since been deleted are
// skipped rather than rendered half-empty.
func groupEntryMatches(matches []models.Match) []keywordGroup {
	index := make(map[string]int)
	groups := make([]keywordGroup, 0)
	for _, m := range matches {
		if m.Keyword == nil || m.Announcement == nil {
			continue
		}
		term := m.Keyword.Term
		i, ok := index[term]
		if !ok {
			i = len(groups)
			index[term] = i
			groups = append(groups, keywordGroup{Term: term})
		}
		groups[i].Announcements = append(groups[i].Announcements, *m.Announcement)
	}
	return groups
}

func renderImmediate(groups []keywordGroup) string {
	var b strings.Builder
	b.WriteString("<h2>New announcements</h2>\n")
	b.WriteString("<p>We found new announcements matching your keywords:</p>\n")
	writeGroups(&b, groups)
	b.WriteString("<p><small>You are receiving this email because of your notification settings.</small></p>\n")
	return b.String()
}

func renderDigest(label string, periodStart, periodEnd time.Time, groups []keywordGroup) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<h2>Your %s announcements digest</h2>\n", html.EscapeString(label))
	fmt.Fprintf(&b, "<p>Announcements matching your keywords between %s and %s:</p>\n",
		periodStart.Format("2006-01-02 15:04"),
		periodEnd.Format("2006-01-02 15:04"),
	)
	writeGroups(&b, groups)
	b.WriteString("<p><small>You are receiving this digest because of your notification settings.</small></p>\n")
	return b.String()
}

func writeGroups(b *strings.Builder, groups []keywordGroup) {
	for _, group := range groups {
		fmt.Fprintf(b, "<h3>Keyword: %s</h3>\n<ul>\n", html.EscapeString(group.Term))
		for _, ann := range group.Announcements {
			b.WriteString("<li>")
			fmt.Fprintf(b, "<strong>%s</strong>", html.EscapeString(ann.Title))
			if desc := strings.TrimSpace(ann.Description); desc != "" {
				fmt.Fprintf(b, "<br>%s", html.EscapeString(desc))
			}
			fmt.Fprintf(b, "<br><small>Published: %s</small>", ann.PublishedAt.Format("2006-01-02 15:04"))
			if ann.SourceURL != "" {
				fmt.Fprintf(b, `<br><a href="%s">View announcement</a>`, html.EscapeString(ann.SourceURL))
			}
			b.WriteString("</li>\n")
		}
		b.WriteString("</ul>\n")
	}
}
