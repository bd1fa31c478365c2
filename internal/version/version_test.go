package version

import (
	"strings"
	"testing"
)

func TestStringIncludesVersionAndCommit(t *testing.T) {
	oldVersion, oldCommit := Version, Commit
	t.Cleanup(func() { Version, Commit = oldVersion, oldCommit })

	Version, Commit = "1.2.3", "abc1234"
	got := String()
	if !strings.HasPrefix(got, "homefm 1.2.3 (abc1234, ") {
		t.Fatalf("String() = %q", got)
	}
}
