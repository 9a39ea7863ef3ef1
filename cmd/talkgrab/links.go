package main

import (
	"bufio"
	"fmt"
	"net/url"
	"os"
	"strings"

	"go.uber.org/zap"
)

// readLinksFile reads one URL per line; blank lines and # comments are
// skipped. A missing file yields no links, not an error.
func readLinksFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading links file %s: %w", path, err)
	}
	defer f.Close()

	var urls []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		urls = append(urls, line)
	}
	return urls, scanner.Err()
}

// resolveInputs expands positional arguments: anything naming an existing
// file is read as a links file, everything else is taken as a URL.
func resolveInputs(inputs []string) ([]string, error) {
	var urls []string
	for _, item := range inputs {
		if info, err := os.Stat(item); err == nil && info.Mode().IsRegular() {
			fromFile, err := readLinksFile(item)
			if err != nil {
				return nil, err
			}
			urls = append(urls, fromFile...)
			continue
		}
		urls = append(urls, item)
	}
	return urls, nil
}

func domainOf(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Hostname() == "" {
		return "unknown-domain"
	}
	return parsed.Hostname()
}

// validURLs keeps only http(s) URLs with a hostname, logging what it
// drops.
func validURLs(urls []string) []string {
	log := zap.S()
	var valid []string
	for _, raw := range urls {
		parsed, err := url.Parse(raw)
		if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Hostname() == "" {
			log.Warnw("ignoring invalid URL", "url", raw)
			continue
		}
		valid = append(valid, raw)
	}
	return valid
}
