package storage

import (
	"bufio"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// Scheme represents where a container lives.
type Scheme string

const (
	SchemeFile Scheme = "file"
	SchemeSMB  Scheme = "smb"
	SchemeS3   Scheme = "s3"
)

// Location contains a normalized view of a container location.
// Display is the canonical string without credentials; it is what the
// session shows and remembers.
type Location struct {
	Scheme  Scheme
	Raw     string
	Display string

	// file
	Path string

	// smb
	Host     string
	Share    string
	Segments []string
	User     string
	Password string
	Domain   string

	// s3
	Bucket string
	Key    string
}

// ParseLocation accepts a local path, smb://[domain;][user[:pass]@]host/share/path,
// //host/share/path or s3://bucket/key.
func ParseLocation(input string) (Location, error) {
	raw := strings.TrimSpace(input)
	if raw == "" {
		return Location{}, fmt.Errorf("empty location")
	}

	switch {
	case isS3URL(raw):
		rest := raw[len("s3://"):]
		bucket, key, _ := strings.Cut(rest, "/")
		if bucket == "" || key == "" || strings.HasSuffix(key, "/") {
			return Location{}, fmt.Errorf("s3 location must be s3://bucket/key: %q", input)
		}
		return Location{
			Scheme:  SchemeS3,
			Raw:     input,
			Display: "s3://" + bucket + "/" + key,
			Bucket:  bucket,
			Key:     key,
		}, nil

	case isSMBURL(raw) || strings.HasPrefix(raw, "//"):
		host, share, segs, user, pass, domain := parseSMBURL(raw)
		if host == "" || share == "" || len(segs) == 0 {
			return Location{}, fmt.Errorf("smb location must be smb://host/share/path: %q", input)
		}
		return Location{
			Scheme:   SchemeSMB,
			Raw:      input,
			Display:  "smb://" + path.Join(host, share, path.Join(segs...)),
			Host:     host,
			Share:    share,
			Segments: segs,
			User:     user,
			Password: pass,
			Domain:   domain,
		}, nil
	}

	abs, err := filepath.Abs(raw)
	if err != nil {
		return Location{}, fmt.Errorf("resolve %q: %w", input, err)
	}
	return Location{Scheme: SchemeFile, Raw: input, Display: abs, Path: abs}, nil
}

// String returns the display form.
func (l Location) String() string { return l.Display }

// BaseName returns the last path segment analogous to filepath.Base.
func (l Location) BaseName() string {
	switch l.Scheme {
	case SchemeFile:
		return filepath.Base(l.Path)
	case SchemeS3:
		return path.Base(l.Key)
	default:
		return l.Segments[len(l.Segments)-1]
	}
}

// sharePath is the path relative to the share; go-smb2 forbids leading separators.
func (l Location) sharePath() string {
	return strings.TrimLeft(path.Join(l.Segments...), "/")
}

func isSMBURL(p string) bool {
	return strings.HasPrefix(strings.ToLower(p), "smb://")
}

func isS3URL(p string) bool {
	return strings.HasPrefix(strings.ToLower(p), "s3://")
}

// parseSMBURL extracts host, share, segments from an smb-like path.
// Accepts forms: smb://[user[:pass]@]host/share/..., //host/share/...
func parseSMBURL(u string) (host, share string, segments []string, user, pass, domain string) {
	s := strings.TrimSpace(u)
	if strings.HasPrefix(s, "//") && !isSMBURL(s) {
		s = "smb:" + s // normalize to smb://
	}
	if !isSMBURL(s) {
		return "", "", nil, "", "", ""
	}
	t := s[len("smb://"):]
	// Extract and strip creds
	if at := strings.LastIndex(t, "@"); at >= 0 {
		cred := t[:at]
		t = t[at+1:]
		// Split password part
		if colon := strings.Index(cred, ":"); colon >= 0 {
			pass = cred[colon+1:]
			cred = cred[:colon]
		}
		// Detect domain separator
		if semi := strings.Index(cred, ";"); semi >= 0 {
			domain = cred[:semi]
			user = cred[semi+1:]
		} else if bs := strings.Index(cred, "\\"); bs >= 0 {
			domain = cred[:bs]
			user = cred[bs+1:]
		} else {
			user = cred
		}
	}
	parts := strings.Split(strings.Trim(t, "/"), "/")
	if len(parts) < 2 {
		return "", "", nil, "", "", ""
	}
	host = parts[0]
	share = parts[1]
	for _, seg := range parts[2:] {
		if seg != "" {
			segments = append(segments, seg)
		}
	}
	return
}

// findSMBMount attempts to find a mounted CIFS/SMB mount matching host/share.
// It scans /proc/self/mountinfo (Linux) and matches either mount source (//host/share)
// or unc=\\host\share in options.
func findSMBMount(host, share string) (mountPoint string, ok bool) {
	f, err := os.Open("/proc/self/mountinfo")
	if err != nil {
		return "", false
	}
	defer f.Close()
	return scanSMBMounts(bufio.NewScanner(f), host, share)
}

func scanSMBMounts(scanner *bufio.Scanner, host, share string) (string, bool) {
	for scanner.Scan() {
		fsType, src, mp, superOpts, opts, parsed := parseMountInfo(scanner.Text())
		if !parsed {
			continue
		}
		lfs := strings.ToLower(fsType)
		if !(lfs == "cifs" || strings.Contains(lfs, "smb")) {
			continue
		}
		// Try source first: expected form //host/share
		shost, sshare := parseSourceUNC(src)
		if shost != "" && strings.EqualFold(shost, host) && strings.EqualFold(sshare, share) {
			return mp, true
		}
		// Fallback: look for unc=\\host\share in options
		unc := findUNCOption(superOpts)
		if unc == "" {
			unc = findUNCOption(opts)
		}
		if unc != "" {
			shost, sshare = parseBackslashUNC(unc)
			if shost != "" && strings.EqualFold(shost, host) && strings.EqualFold(sshare, share) {
				return mp, true
			}
		}
	}
	return "", false
}

// parseMountInfo extracts minimal fields from a mountinfo line.
func parseMountInfo(line string) (fsType, source, mountPoint, superOpts, opts string, ok bool) {
	// split at " - " separator
	parts := strings.SplitN(line, " - ", 2)
	if len(parts) != 2 {
		return
	}
	left := strings.Fields(parts[0])
	right := strings.Fields(parts[1])
	// mountinfo may have zero optional fields; accept 6+ tokens on the left side.
	if len(left) < 6 || len(right) < 3 {
		return
	}
	mountPoint = decodeMountPoint(left[4])
	opts = strings.Join(left[5:], " ")
	fsType = right[0]
	source = right[1]
	superOpts = strings.Join(right[2:], " ")
	ok = true
	return
}

// decodeMountPoint converts mountinfo escape sequences (e.g., \040 -> space).
func decodeMountPoint(s string) string {
	s = strings.ReplaceAll(s, "\\040", " ")
	s = strings.ReplaceAll(s, "\\134", "\\")
	return s
}

func parseSourceUNC(src string) (host, share string) {
	if strings.HasPrefix(src, "//") {
		parts := strings.Split(strings.TrimPrefix(src, "//"), "/")
		if len(parts) >= 2 {
			return parts[0], parts[1]
		}
	}
	return "", ""
}

func findUNCOption(opts string) string {
	for _, part := range strings.Split(opts, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) == 2 && strings.ToLower(kv[0]) == "unc" {
			return kv[1]
		}
	}
	return ""
}

func parseBackslashUNC(unc string) (host, share string) {
	parts := strings.Split(strings.TrimPrefix(unc, `\\`), "\\")
	if len(parts) >= 2 {
		return parts[0], parts[1]
	}
	return "", ""
}
