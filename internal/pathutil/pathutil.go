// Package pathutil guards filesystem and callback-URL access. Every
// user-supplied path that reaches disk goes through IsWithin first.
package pathutil

import (
	"fmt"
	"net"
	"net/url"
	"path/filepath"
	"strings"
)

// NormalizePath converts all path separators to forward slashes.
// Go's os.Open/os.Stat accept forward slashes on all platforms.
func NormalizePath(p string) string {
	return filepath.ToSlash(p)
}

// IsWithin reports whether path resolves to a location inside root. Both
// arguments are resolved through symlinks when they exist on disk, so a
// symlink escaping the media root is rejected.
func IsWithin(root, path string) (bool, error) {
	resolvedRoot, err := resolve(root)
	if err != nil {
		return false, fmt.Errorf("failed to resolve root: %w", err)
	}
	resolvedPath, err := resolve(path)
	if err != nil {
		return false, fmt.Errorf("failed to resolve path: %w", err)
	}

	rel, err := filepath.Rel(resolvedRoot, resolvedPath)
	if err != nil {
		return false, nil
	}
	if rel == "." {
		return true, nil
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)), nil
}

// EnsureWithin returns an error unless path is inside root.
func EnsureWithin(root, path string) error {
	ok, err := IsWithin(root, path)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("path %s escapes media root", path)
	}
	return nil
}

// resolve makes the path absolute and follows symlinks for the longest
// existing prefix. The file itself may not exist yet (output paths).
func resolve(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}

	// EvalSymlinks fails on non-existent paths, so walk up to the nearest
	// existing ancestor and re-append the remainder.
	remainder := ""
	current := abs
	for {
		resolved, err := filepath.EvalSymlinks(current)
		if err == nil {
			return filepath.Join(resolved, remainder), nil
		}
		parent := filepath.Dir(current)
		if parent == current {
			return abs, nil
		}
		remainder = filepath.Join(filepath.Base(current), remainder)
		current = parent
	}
}

// lookupIP is swapped out in tests to avoid real DNS.
var lookupIP = net.LookupIP

// ValidateCallbackURL rejects URLs that could be used to probe internal
// networks. Only http/https with a routable public host are accepted;
// hostnames are resolved so a DNS name pointing at a private address is
// caught too.
func ValidateCallbackURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid callback URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("callback URL scheme %q not allowed", u.Scheme)
	}
	host := u.Hostname()
	if host == "" {
		return fmt.Errorf("callback URL has no host")
	}
	if strings.EqualFold(host, "localhost") {
		return fmt.Errorf("callback URL host %q not allowed", host)
	}
	if ip := net.ParseIP(host); ip != nil {
		if isPrivateIP(ip) {
			return fmt.Errorf("callback URL host %s is not routable", host)
		}
		return nil
	}

	ips, err := lookupIP(host)
	if err != nil {
		return fmt.Errorf("callback URL host %s does not resolve: %w", host, err)
	}
	for _, ip := range ips {
		if isPrivateIP(ip) {
			return fmt.Errorf("callback URL host %s resolves to non-routable %s", host, ip)
		}
	}
	return nil
}

func isPrivateIP(ip net.IP) bool {
	return ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() || ip.IsUnspecified()
}
