// Package keyring prepares the recipient and secret-key inputs the
// crypto envelope needs: it parses OpenPGP keyring files supplied via
// repeatable -k flags (glob-expanding each pattern first) into entity
// lists, and validates an optional age recipient string. It performs no
// core-pipeline work itself — spec scope keeps key material parsing out
// of internal/crypto.
package keyring

import (
	"os"
	"path/filepath"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ryanuber/go-glob"

	"github.com/cryophile/cryophile/internal/cryoerr"
)

// ExpandPaths glob-expands every pattern in patterns against the
// filesystem, de-duplicating matches across patterns and preserving
// first-seen order. A pattern with no glob metacharacters that matches
// no file is passed through unchanged (the caller's subsequent file-open
// failure is the more useful diagnostic than "no keyring files found").
func ExpandPaths(patterns []string) ([]string, error) {
	seen := make(map[string]bool)
	var out []string

	for _, pattern := range patterns {
		matches, err := expandOne(pattern)
		if err != nil {
			return nil, cryoerr.New(cryoerr.KindInvalidInput, "expand keyring pattern "+pattern, err)
		}
		for _, m := range matches {
			if !seen[m] {
				seen[m] = true
				out = append(out, m)
			}
		}
	}

	return out, nil
}

// expandOne resolves a single -k argument. go-glob's Glob matches a
// pattern against a single candidate string rather than walking the
// filesystem, so entries are harvested from the pattern's directory
// (or, for a pattern with no directory separator, the current
// directory) and filtered through it.
func expandOne(pattern string) ([]string, error) {
	if !containsMeta(pattern) {
		return []string{pattern}, nil
	}

	dir := filepath.Dir(pattern)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var matches []string
	for _, e := range entries {
		candidate := filepath.Join(dir, e.Name())
		if glob.Glob(pattern, candidate) {
			matches = append(matches, candidate)
		}
	}
	return matches, nil
}

func containsMeta(pattern string) bool {
	for _, c := range pattern {
		switch c {
		case '*', '?', '[':
			return true
		}
	}
	return false
}

// LoadKeyrings reads and parses every OpenPGP keyring file named by
// paths (already glob-expanded) into a flat entity list.
func LoadKeyrings(paths []string) (openpgp.EntityList, error) {
	var all openpgp.EntityList

	for _, path := range paths {
		f, err := os.Open(path)
		if err != nil {
			return nil, cryoerr.New(cryoerr.KindNotFound, "open keyring "+path, err)
		}

		entities, err := readKeyring(f)
		closeErr := f.Close()
		if err != nil {
			return nil, cryoerr.New(cryoerr.KindInvalidInput, "parse keyring "+path, err)
		}
		if closeErr != nil {
			return nil, cryoerr.New(cryoerr.KindInvalidInput, "close keyring "+path, closeErr)
		}

		all = append(all, entities...)
	}

	if len(all) == 0 {
		return nil, cryoerr.New(cryoerr.KindInvalidInput, "load keyrings", errEmptyKeyring)
	}

	return all, nil
}

var errEmptyKeyring = simpleErr("keyring is empty")

type simpleErr string

func (e simpleErr) Error() string { return string(e) }

func readKeyring(f *os.File) (openpgp.EntityList, error) {
	if entities, err := openpgp.ReadArmoredKeyRing(f); err == nil {
		return entities, nil
	}
	if _, err := f.Seek(0, 0); err != nil {
		return nil, err
	}
	return openpgp.ReadKeyRing(f)
}
