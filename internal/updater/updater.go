package updater

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const timeout = 5 * time.Second

// checkURL is a variable so tests can point it at a local server.
var checkURL = "https://api.github.com/repos/ClementTsang/Barista/releases/latest"

type release struct {
	TagName string `json:"tag_name"`
	HTMLURL string `json:"html_url"`
}

// UpdateInfo contains information about an available update.
type UpdateInfo struct {
	Latest     string // latest version (e.g. "0.2.0")
	ReleaseURL string
}

// CheckForUpdate fetches the latest release and compares it with the
// current version. Returns nil if up-to-date or on any error.
func CheckForUpdate(ctx context.Context, currentVersion string) *UpdateInfo {
	var rel release
	resp, err := resty.New().
		SetTimeout(timeout).
		R().
		SetContext(ctx).
		SetHeader("Accept", "application/vnd.github+json").
		SetResult(&rel).
		Get(checkURL)
	if err != nil || resp.StatusCode() != http.StatusOK {
		return nil
	}

	latest := strings.TrimPrefix(rel.TagName, "v")
	if latest == "" || !isNewer(latest, currentVersion) {
		return nil
	}
	return &UpdateInfo{Latest: latest, ReleaseURL: rel.HTMLURL}
}

// isNewer returns true if remote is strictly newer than local.
// Versions are expected as "major.minor.patch" (e.g. "1.6.2").
func isNewer(remote, local string) bool {
	r, rErr := parseSemver(remote)
	l, lErr := parseSemver(local)
	if rErr != nil || lErr != nil {
		return remote != local // fallback to inequality
	}
	for i := 0; i < 3; i++ {
		if r[i] != l[i] {
			return r[i] > l[i]
		}
	}
	return false
}

func parseSemver(s string) ([3]int, error) {
	s = strings.TrimPrefix(s, "v")
	parts := strings.SplitN(s, ".", 3)
	if len(parts) != 3 {
		return [3]int{}, fmt.Errorf("invalid semver: %s", s)
	}
	var v [3]int
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return [3]int{}, err
		}
		v[i] = n
	}
	return v, nil
}
