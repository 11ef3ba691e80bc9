package cache

import (
	"testing"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
)

const testSnapshotPath = "/home/dev/.caching-proxy-cache.json"

func newTestStore(t *testing.T) (*Store, billy.Filesystem, *test.Hook) {
	t.Helper()
	fs := memfs.New()
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	return NewStore(fs, testSnapshotPath, logger), fs, hook
}

func sampleResponse() *CachedResponse {
	return &CachedResponse{
		StatusCode: 200,
		Headers: map[string][]string{
			"Cache-Control": {"no-cache"},
			"Set-Cookie":    {"a=1", "b=2"},
		},
		ContentHeaders: map[string][]string{
			"Content-Type":   {"application/json"},
			"Content-Length": {"8"},
		},
		Body: []byte(`{"id":1}`),
	}
}

func warnEntries(hook *test.Hook) []*logrus.Entry {
	var out []*logrus.Entry
	for _, entry := range hook.AllEntries() {
		if entry.Level == logrus.WarnLevel {
			out = append(out, entry)
		}
	}
	return out
}
