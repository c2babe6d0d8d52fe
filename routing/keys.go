// Package routing builds topic-exchange routing keys and binding
// patterns for HTTP pull and push transfer messages.
//
// Published keys and binding patterns share a common hierarchical
// layout: a fixed base key per operation kind, optionally followed by a
// slugified provider host (pull) or slugified path segments (push), and
// a transfer process id. Scope tokens are slugified before insertion so
// that dots inside hostnames do not corrupt the broker's wildcard
// matching.
package routing

import "strings"

const (
	// BasePullKey is the routing key prefix for HTTP pull messages.
	BasePullKey = "http.pull"
	// BasePushKey is the routing key prefix for HTTP push messages.
	BasePushKey = "http.push"
)

// Kind identifies the transfer operation a queue or message belongs to.
type Kind string

const (
	KindPull Kind = "http-pull"
	KindPush Kind = "http-push"
)

// String returns the kind token used for queue naming.
func (k Kind) String() string {
	return string(k)
}

// BaseKey returns the routing key prefix for the kind.
func (k Kind) BaseKey() string {
	if k == KindPush {
		return BasePushKey
	}
	return BasePullKey
}

// Slugify lowercases s and collapses every run of characters outside
// [a-z0-9] into a single hyphen, trimming leading and trailing hyphens.
// The result is safe to embed as a single routing key token.
func Slugify(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	pendingHyphen := false
	for _, r := range strings.ToLower(s) {
		alnum := (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')
		if !alnum {
			if b.Len() > 0 {
				pendingHyphen = true
			}
			continue
		}
		if pendingHyphen {
			b.WriteByte('-')
			pendingHyphen = false
		}
		b.WriteRune(r)
	}
	return b.String()
}

// PullKey returns the routing key a pull message is published with:
// http.pull.<slug(providerHost)>.<slug(transferProcessID)>.
func PullKey(providerHost, transferProcessID string) string {
	return join(BasePullKey, Slugify(providerHost), Slugify(transferProcessID))
}

// PushKey returns the routing key a push message is published with:
// http.push with one slugified token appended per non-empty segment.
func PushKey(segments ...string) string {
	parts := []string{BasePushKey}
	for _, seg := range segments {
		if slug := Slugify(seg); slug != "" {
			parts = append(parts, slug)
		}
	}
	return strings.Join(parts, ".")
}

// PullBinding returns the pattern a pull queue binds with. Without a
// provider host the queue receives every pull message (http.pull.#).
// With a host, the final token is the slugified transfer process id, or
// the * wildcard when the id is empty so any transfer from that host
// matches.
func PullBinding(providerHost, transferProcessID string) string {
	host := Slugify(providerHost)
	if host == "" {
		return BasePullKey + ".#"
	}
	id := Slugify(transferProcessID)
	if id == "" {
		id = "*"
	}
	return join(BasePullKey, host, id)
}

// PushBinding returns the pattern a push queue binds with. Without
// segments the queue receives every push message (http.push.#). With
// segments the binding equals the publish key for that path, so only
// messages pushed to exactly that path match.
func PushBinding(segments ...string) string {
	key := PushKey(segments...)
	if key == BasePushKey {
		return BasePushKey + ".#"
	}
	return key
}

func join(parts ...string) string {
	kept := parts[:0]
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, ".")
}
