// Package corelink parses RFC 6690 CoRE Link Format bodies, as returned
// by a device's /.well-known/core resource. The grammar supported here
// is the comma-separated "<uri>;attr=value;..." subset the exchange
// engine actually needs: extracting the link targets so they can be
// folded into the endpoint inventory. Off-device anchors (an absolute
// URI rather than a path) are parsed but rejected by the caller: every
// link is implicitly anchored to the device that served it.
package corelink

import "strings"

// Link is one parsed entry: its target and any attribute key/value
// pairs that followed it.
type Link struct {
	Target     string
	Attributes map[string]string
}

// IsLocalPath reports whether the link target is a bare path relative
// to the implicit https://slipmux/ origin, as opposed to an absolute
// URI naming some other host.
func (l Link) IsLocalPath() bool {
	return strings.HasPrefix(l.Target, "/")
}

// Parse splits a CoRE Link Format body into its comma-separated
// entries and extracts each link's target and attributes.
func Parse(body string) []Link {
	var links []Link
	for _, entry := range strings.Split(body, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		link, ok := parseEntry(entry)
		if ok {
			links = append(links, link)
		}
	}
	return links
}

func parseEntry(entry string) (Link, bool) {
	if !strings.HasPrefix(entry, "<") {
		return Link{}, false
	}
	end := strings.Index(entry, ">")
	if end < 0 {
		return Link{}, false
	}
	target := entry[1:end]
	attrs := make(map[string]string)
	rest := entry[end+1:]
	for _, part := range strings.Split(rest, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if eq := strings.IndexByte(part, '='); eq >= 0 {
			key := part[:eq]
			val := strings.Trim(part[eq+1:], `"`)
			attrs[key] = val
		} else {
			attrs[part] = ""
		}
	}
	return Link{Target: target, Attributes: attrs}, true
}
