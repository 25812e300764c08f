package provisioner

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/spf13/afero"
)

// loopbackIdent matches a host-type pg_hba.conf rule for the IPv4 or IPv6
// loopback address whose method is identity based. Group 1 is everything up
// to the method, group 2 everything after it.
var loopbackIdent = regexp.MustCompile(
	`^([ \t]*host(?:ssl|nossl|gssenc|nogssenc)?[ \t]+\S+[ \t]+\S+[ \t]+(?:127\.0\.0\.1/32|::1/128)[ \t]+)(?:ident|peer)([ \t].*|)$`,
)

// RewritePolicy replaces the method of identity-based loopback rules with
// method. Every other line, including comments and line endings, is kept
// byte for byte. It returns the new content and the number of rules changed.
func RewritePolicy(content []byte, method string) ([]byte, int) {
	lines := strings.SplitAfter(string(content), "\n")
	changed := 0
	for i, line := range lines {
		body := strings.TrimRight(line, "\r\n")
		ending := line[len(body):]
		if !loopbackIdent.MatchString(body) {
			continue
		}
		lines[i] = loopbackIdent.ReplaceAllString(body, "${1}"+method+"${2}") + ending
		changed++
	}
	return []byte(strings.Join(lines, "")), changed
}

// UpdatePolicyFile rewrites the policy file at path in place, keeping its
// permissions. The original is copied to path+".orig" the first time it is
// changed. It returns the number of rules changed; zero means the file was
// already password based and was not written.
func UpdatePolicyFile(fs afero.Fs, path, method string) (int, error) {
	info, err := fs.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("stat %s: %w", path, err)
	}
	content, err := afero.ReadFile(fs, path)
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", path, err)
	}

	updated, changed := RewritePolicy(content, method)
	if changed == 0 {
		return 0, nil
	}

	backup := path + ".orig"
	if _, err := fs.Stat(backup); os.IsNotExist(err) {
		if err := afero.WriteFile(fs, backup, content, info.Mode().Perm()); err != nil {
			return 0, fmt.Errorf("back up %s: %w", path, err)
		}
	}
	if err := afero.WriteFile(fs, path, updated, info.Mode().Perm()); err != nil {
		return 0, fmt.Errorf("write %s: %w", path, err)
	}
	return changed, nil
}
