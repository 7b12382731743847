// Package projectref normalises the many shapes a project reference can
// arrive in (a bare "owner/repo", a full git remote URL, an SSH-style
// remote) into the canonical "host/owner/repo" form documents and
// supersessions are scoped by.
package projectref

import (
	"fmt"
	"regexp"
	"strings"
)

var sshRemote = regexp.MustCompile(`^git@([^:]+):(.+?)(?:\.git)?$`)

// Normalize returns the canonical "host/owner/repo" form of ref, or an
// error if ref doesn't resemble a project reference at all.
func Normalize(ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", fmt.Errorf("empty project reference")
	}

	if m := sshRemote.FindStringSubmatch(ref); m != nil {
		return joinHostOwnerRepo(m[1], m[2]), nil
	}

	if strings.HasPrefix(ref, "https://") || strings.HasPrefix(ref, "http://") {
		trimmed := strings.TrimPrefix(strings.TrimPrefix(ref, "https://"), "http://")
		parts := strings.SplitN(trimmed, "/", 2)
		if len(parts) != 2 {
			return "", fmt.Errorf("malformed project URL %q", ref)
		}
		return joinHostOwnerRepo(parts[0], parts[1]), nil
	}

	// bare "owner/repo" defaults to github.com, the overwhelmingly common case
	if strings.Count(ref, "/") == 1 && !strings.Contains(ref, ".") {
		return joinHostOwnerRepo("github.com", ref), nil
	}

	// already host/owner/repo
	if strings.Count(ref, "/") == 2 {
		return strings.TrimSuffix(ref, "/"), nil
	}

	return "", fmt.Errorf("unrecognized project reference %q", ref)
}

func joinHostOwnerRepo(host, ownerRepo string) string {
	ownerRepo = strings.TrimSuffix(ownerRepo, ".git")
	ownerRepo = strings.Trim(ownerRepo, "/")
	return host + "/" + ownerRepo
}
