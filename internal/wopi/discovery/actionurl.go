package discovery

import (
	"fmt"
	"regexp"
	"strings"
)

// placeholders lists the urlsrc placeholders the host fills in, in the order
// they are substituted. An empty value removes the placeholder.
var placeholders = []struct {
	token string
	value string
}{
	{"<IsLicensedUser=BUSINESS_USER&>", "1"},
	{"<rs=DC_LLCC&>", "1033"},
	{"<na=DISABLE_ASYNC&>", "true"},
	{"<dchat=DISABLE_CHAT&>", "false"},
	{"<vp=DISABLE_BROADCAST&>", "true"},
	{"<e=EMBEDDED&>", "true"},
	{"<fs=FULLSCREEN&>", "true"},
	{"<showpagestats=PERFSTATS&>", ""},
	{"<rec=RECORDING&>", "true"},
	{"<thm=THEME_ID&>", "true"},
	{"<ui=UI_LLCC&>", "1033"},
	{"<testcategory=VALIDATOR_TEST_CATEGORY>", "OfficeOnline"},
}

var unknownPlaceholder = regexp.MustCompile(`<[^<>]*>`)

// ActionURL builds the editor launch URL for docID from the action template,
// pointing WOPISrc back at this host's files endpoint on authority.
func ActionURL(a Action, docID, authority string) string {
	u := a.URLSrc
	for _, p := range placeholders {
		if !strings.Contains(u, p.token) {
			continue
		}
		repl := ""
		if p.value != "" {
			key := p.token[1 : strings.Index(p.token, "=")+1]
			repl = key + p.value + "&"
		}
		u = strings.ReplaceAll(u, p.token, repl)
	}
	u = unknownPlaceholder.ReplaceAllString(u, "")

	sep := ""
	switch {
	case !strings.Contains(u, "?"):
		sep = "?"
	case !strings.HasSuffix(u, "?") && !strings.HasSuffix(u, "&"):
		sep = "&"
	}
	return u + sep + fmt.Sprintf("WOPISrc=https://%s/wopi/files/%s", authority, docID)
}
