package cookies

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"talkgrab"
)

// ParseNetscape reads the classic 7-column cookies.txt format. Comment
// lines and blank lines are skipped; the #HttpOnly_ prefix used by curl
// and yt-dlp is honoured.
func ParseNetscape(r io.Reader) ([]talkgrab.Cookie, error) {
	var out []talkgrab.Cookie
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		httpOnly := false
		if strings.HasPrefix(line, "#HttpOnly_") {
			httpOnly = true
			line = strings.TrimPrefix(line, "#HttpOnly_")
		} else if strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) < 7 {
			return nil, fmt.Errorf("cookie file line %d: expected 7 tab-separated fields, got %d", lineNo, len(fields))
		}
		expires := time.Time{}
		if epoch, err := strconv.ParseInt(fields[4], 10, 64); err == nil && epoch > 0 {
			expires = time.Unix(epoch, 0)
		}
		out = append(out, talkgrab.Cookie{
			Domain:   fields[0],
			Path:     fields[2],
			Secure:   strings.EqualFold(fields[3], "TRUE"),
			Expires:  expires,
			Name:     fields[5],
			Value:    strings.Join(fields[6:], "\t"),
			HTTPOnly: httpOnly,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading cookie file: %w", err)
	}
	return out, nil
}

// WriteNetscape writes cookies in the format yt-dlp expects for --cookies.
func WriteNetscape(w io.Writer, set talkgrab.CookieSet) error {
	if _, err := fmt.Fprintln(w, "# Netscape HTTP Cookie File"); err != nil {
		return err
	}
	for _, c := range set.Cookies {
		domain := c.Domain
		if domain == "" {
			domain = set.Domain
		}
		includeSubdomains := "FALSE"
		if strings.HasPrefix(domain, ".") {
			includeSubdomains = "TRUE"
		}
		path := c.Path
		if path == "" {
			path = "/"
		}
		secure := "FALSE"
		if c.Secure {
			secure = "TRUE"
		}
		var epoch int64
		if !c.Expires.IsZero() {
			epoch = c.Expires.Unix()
		}
		prefix := ""
		if c.HTTPOnly {
			prefix = "#HttpOnly_"
		}
		if _, err := fmt.Fprintf(w, "%s%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			prefix, domain, includeSubdomains, path, secure, epoch, c.Name, c.Value); err != nil {
			return err
		}
	}
	return nil
}
