package session

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/RanL703/Blog-2-Tweet-Agent/internal/model"
)

// diagnoseHTTPError turns an error response into a one-line message. It
// understands v2 problem bodies and v1.1 error arrays and falls back to the
// raw body.
func diagnoseHTTPError(resp *http.Response, body []byte, op string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: HTTP %d", op, resp.StatusCode)

	if lvl := resp.Header.Get("X-Access-Level"); lvl != "" {
		fmt.Fprintf(&b, " (access level %s)", lvl)
	}

	var v2 model.ProblemResp
	if json.Unmarshal(body, &v2) == nil && (v2.Title != "" || v2.Detail != "") {
		fmt.Fprintf(&b, ": %s", v2.Title)
		if v2.Detail != "" {
			fmt.Fprintf(&b, ": %s", v2.Detail)
		}
		return b.String()
	}

	var v1 model.V1ErrorResp
	if json.Unmarshal(body, &v1) == nil && len(v1.Errors) > 0 {
		for i, e := range v1.Errors {
			sep := ": "
			if i > 0 {
				sep = "; "
			}
			fmt.Fprintf(&b, "%s[%d] %s", sep, e.Code, e.Message)
		}
		return b.String()
	}

	if s := strings.TrimSpace(string(body)); s != "" {
		fmt.Fprintf(&b, ": %s", truncate(s, 300))
	}
	return b.String()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
