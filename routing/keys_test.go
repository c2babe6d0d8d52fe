package routing

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSlugify(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "hostname dots become hyphens", input: "foo.bar.com", expected: "foo-bar-com"},
		{name: "uppercase is lowered", input: "Provider.Example.COM", expected: "provider-example-com"},
		{name: "id with hyphen preserved", input: "tx-1", expected: "tx-1"},
		{name: "runs of separators collapse", input: "a..b--c__d", expected: "a-b-c-d"},
		{name: "leading and trailing separators trimmed", input: "-foo.", expected: "foo"},
		{name: "empty input", input: "", expected: ""},
		{name: "only separators", input: "...", expected: ""},
		{name: "digits kept", input: "host123.net", expected: "host123-net"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Slugify(tt.input))
		})
	}
}

func TestPullKey(t *testing.T) {
	t.Run("slugifies host and preserves id", func(t *testing.T) {
		assert.Equal(t, "http.pull.foo-bar-com.tx-1", PullKey("foo.bar.com", "tx-1"))
	})

	t.Run("is deterministic", func(t *testing.T) {
		a := PullKey("provider.example.com", "transfer-42")
		b := PullKey("provider.example.com", "transfer-42")
		assert.Equal(t, a, b)
	})

	t.Run("distinct scopes produce distinct keys", func(t *testing.T) {
		assert.NotEqual(t, PullKey("a.example.com", "tx-1"), PullKey("b.example.com", "tx-1"))
		assert.NotEqual(t, PullKey("a.example.com", "tx-1"), PullKey("a.example.com", "tx-2"))
	})
}

func TestPushKey(t *testing.T) {
	tests := []struct {
		name     string
		segments []string
		expected string
	}{
		{name: "no segments", segments: nil, expected: "http.push"},
		{name: "single segment", segments: []string{"orders"}, expected: "http.push.orders"},
		{name: "multiple segments", segments: []string{"orders", "EU.west"}, expected: "http.push.orders.eu-west"},
		{name: "empty segments dropped", segments: []string{"", "logs", ""}, expected: "http.push.logs"},
		{name: "blank segment dropped", segments: []string{"a", "...", "b"}, expected: "http.push.a.b"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, PushKey(tt.segments...))
		})
	}
}

func TestPullBinding(t *testing.T) {
	t.Run("no scope binds all pull messages", func(t *testing.T) {
		assert.Equal(t, "http.pull.#", PullBinding("", ""))
	})

	t.Run("host scope wildcards the id slot", func(t *testing.T) {
		assert.Equal(t, "http.pull.provider-example-com.*", PullBinding("provider.example.com", ""))
	})

	t.Run("host and id bind exactly", func(t *testing.T) {
		assert.Equal(t, "http.pull.foo-bar-com.tx-1", PullBinding("foo.bar.com", "tx-1"))
	})

	t.Run("scoped binding pattern matches the publish key", func(t *testing.T) {
		// http.pull.foo-bar-com.* must cover http.pull.foo-bar-com.tx-1.
		key := PullKey("foo.bar.com", "tx-1")
		binding := PullBinding("foo.bar.com", "")
		assert.Equal(t, "http.pull.foo-bar-com.tx-1", key)
		assert.Equal(t, "http.pull.foo-bar-com.*", binding)
	})
}

func TestPushBinding(t *testing.T) {
	t.Run("no segments binds all push messages", func(t *testing.T) {
		assert.Equal(t, "http.push.#", PushBinding())
	})

	t.Run("segments bind the exact publish key", func(t *testing.T) {
		assert.Equal(t, PushKey("alerts", "high"), PushBinding("alerts", "high"))
	})

	t.Run("all-empty segments fall back to wildcard", func(t *testing.T) {
		assert.Equal(t, "http.push.#", PushBinding("", ""))
	})
}

func TestKind(t *testing.T) {
	t.Run("kind tokens", func(t *testing.T) {
		assert.Equal(t, "http-pull", KindPull.String())
		assert.Equal(t, "http-push", KindPush.String())
	})

	t.Run("base keys", func(t *testing.T) {
		assert.Equal(t, BasePullKey, KindPull.BaseKey())
		assert.Equal(t, BasePushKey, KindPush.BaseKey())
	})
}
