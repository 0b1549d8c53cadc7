package discovery

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// sniffBytes is how much of a file is read to content-sniff its MIME type;
// large enough to get past shebang lines and BOMs without reading whole
// multi-megabyte files just to classify them.
const sniffBytes = 8192

// looksLikeText reports whether path is a plausible source file: either its
// sniffed MIME type is textual, or it's a binary-looking type that
// mimetype's root detector still classifies as text-derived (e.g. many code
// files with unusual encodings land under text/plain's parent chain).
func looksLikeText(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()

	buf := make([]byte, sniffBytes)
	n, err := f.Read(buf)
	if err != nil && err != io.EOF {
		return false, err
	}
	mtype := mimetype.Detect(buf[:n])
	for m := mtype; m != nil; m = m.Parent() {
		if strings.HasPrefix(m.String(), "text/") {
			return true, nil
		}
	}
	return false, nil
}

// hashFile returns a hex-encoded SHA-256 digest of the file's content, used
// as File.ContentHash to detect unchanged files across re-ingest runs.
func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
